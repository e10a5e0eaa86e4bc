package domain

import "time"

type Profile struct {
	UserID     UserID
	FullName   string
	PhotoURL   string
	Emails     []string
	SignedInAt time.Time
}

func ProfileFromUser(user User, now time.Time) Profile {
	return Profile{
		UserID:     user.ID,
		FullName:   user.FullName,
		PhotoURL:   user.PhotoURL,
		Emails:     append([]string(nil), user.Emails...),
		SignedInAt: now,
	}
}
