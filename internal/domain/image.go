package domain

import "fmt"

// ImageSize is a bounding box. The zero value keeps the original dimensions.
type ImageSize struct {
	Width  int
	Height int
}

var (
	SizeOriginal          = ImageSize{}
	SizeProfilePhoto      = ImageSize{Width: 46, Height: 46}
	SizeProfilePhotoSmall = ImageSize{Width: 32, Height: 32}
	SizeSentImagePreview  = ImageSize{Width: 200, Height: 200}
)

func (s ImageSize) IsOriginal() bool {
	return s.Width <= 0 && s.Height <= 0
}

func (s ImageSize) String() string {
	if s.IsOriginal() {
		return "original"
	}
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Fit scales srcW x srcH into the box keeping the aspect ratio: landscape sources take the
// box width, everything else takes the box height.
func (s ImageSize) Fit(srcW, srcH int) (int, int) {
	if s.IsOriginal() || srcW <= 0 || srcH <= 0 {
		return srcW, srcH
	}

	ratio := float64(srcW) / float64(srcH)
	width, height := s.Width, s.Height
	if ratio > 1 {
		height = int(float64(width)/ratio + 0.5)
	} else {
		width = int(float64(height)*ratio + 0.5)
	}

	return max(width, 1), max(height, 1)
}

func ParseImageSize(raw string) (ImageSize, error) {
	switch raw {
	case "", "original":
		return SizeOriginal, nil
	case "profile":
		return SizeProfilePhoto, nil
	case "profile-small":
		return SizeProfilePhotoSmall, nil
	case "preview":
		return SizeSentImagePreview, nil
	}

	var size ImageSize
	if _, err := fmt.Sscanf(raw, "%dx%d", &size.Width, &size.Height); err != nil || size.Width <= 0 || size.Height <= 0 {
		return ImageSize{}, fmt.Errorf("invalid image size %q", raw)
	}
	return size, nil
}
