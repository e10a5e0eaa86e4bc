package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/spf13/cobra"
)

type profileOutput struct {
	UserID     string   `json:"user_id"`
	FullName   string   `json:"full_name,omitempty"`
	PhotoURL   string   `json:"photo_url,omitempty"`
	Emails     []string `json:"emails,omitempty"`
	SignedInAt string   `json:"signed_in_at,omitempty"`
}

func newWhoamiCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := app.profiles.Get(cmd.Context())
			if errors.Is(err, domain.ErrProfileNotFound) {
				return errNotSignedIn
			}
			if err != nil {
				return err
			}

			if asJSON {
				return writeProfileJSON(cmd.OutOrStdout(), profile)
			}
			return writeProfile(cmd.OutOrStdout(), profile)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the profile as JSON")

	return cmd
}

func profileName(profile domain.Profile) string {
	if profile.FullName != "" {
		return profile.FullName
	}
	return string(profile.UserID)
}

func writeProfile(w io.Writer, profile domain.Profile) error {
	lines := []string{
		"name: " + profileName(profile),
		"user id: " + string(profile.UserID),
	}
	if len(profile.Emails) > 0 {
		lines = append(lines, "emails: "+strings.Join(profile.Emails, ", "))
	}
	if !profile.SignedInAt.IsZero() {
		lines = append(lines, "signed in: "+profile.SignedInAt.UTC().Format("2006-01-02 15:04 MST"))
	}

	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}

func writeProfileJSON(w io.Writer, profile domain.Profile) error {
	out := profileOutput{
		UserID:   string(profile.UserID),
		FullName: profile.FullName,
		PhotoURL: profile.PhotoURL,
		Emails:   profile.Emails,
	}
	if !profile.SignedInAt.IsZero() {
		out.SignedInAt = profile.SignedInAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
