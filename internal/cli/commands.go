package cli

import (
	"context"
	"flag"
	"fmt"
	"io"

	session "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-print"
)

func printJSON(w io.Writer, v any) {
	fmt.Fprintln(w, print.MaybePrettyJSON(v))
}

func newRegisterCommand() *Command {
	cmd := &Command{
		Name:        "register",
		Description: "Create an identity and sign it in",
		Flags:       flag.NewFlagSet("register", flag.ContinueOnError),
	}
	cmd.Flags.String("name", "", "Full name")
	cmd.Flags.String("email", "", "Email address")
	cmd.Flags.String("password", "", "Password")
	cmd.Flags.String("confirm", "", "Password confirmation")

	cmd.Run = func(ctx context.Context, app *App, _ []string) error {
		rt, err := app.open(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		identity, err := rt.coordinator.Register(ctx, session.RegisterInput{
			Name:            flagString(cmd, "name"),
			Email:           flagString(cmd, "email"),
			Password:        flagString(cmd, "password"),
			ConfirmPassword: optionalFlag(cmd, "confirm"),
		})
		if err != nil {
			return err
		}
		printJSON(app.Out, identity)
		return nil
	}
	return cmd
}

func newLoginCommand() *Command {
	cmd := &Command{
		Name:        "login",
		Description: "Sign in with email and password",
		Flags:       flag.NewFlagSet("login", flag.ContinueOnError),
	}
	cmd.Flags.String("email", "", "Email address")
	cmd.Flags.String("password", "", "Password")

	cmd.Run = func(ctx context.Context, app *App, _ []string) error {
		rt, err := app.open(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		identity, err := rt.coordinator.SignIn(ctx, flagString(cmd, "email"), flagString(cmd, "password"))
		if err != nil {
			return err
		}
		printJSON(app.Out, identity)
		return nil
	}
	return cmd
}

func newLogoutCommand() *Command {
	cmd := &Command{
		Name:        "logout",
		Description: "Sign out",
		Flags:       flag.NewFlagSet("logout", flag.ContinueOnError),
	}
	cmd.Run = func(ctx context.Context, app *App, _ []string) error {
		rt, err := app.open(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		rt.coordinator.SignOut(ctx)
		return nil
	}
	return cmd
}

func newWhoamiCommand() *Command {
	cmd := &Command{
		Name:        "whoami",
		Description: "Print the current session state",
		Flags:       flag.NewFlagSet("whoami", flag.ContinueOnError),
	}
	cmd.Run = func(ctx context.Context, app *App, _ []string) error {
		rt, err := app.open(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		printJSON(app.Out, rt.coordinator.State())
		return nil
	}
	return cmd
}

func newResetRequestCommand() *Command {
	cmd := &Command{
		Name:        "reset-request",
		Description: "Send a password reset link",
		Flags:       flag.NewFlagSet("reset-request", flag.ContinueOnError),
	}
	cmd.Flags.String("email", "", "Email address")

	cmd.Run = func(ctx context.Context, app *App, _ []string) error {
		rt, err := app.open(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		msg, err := rt.coordinator.RequestPasswordReset(ctx, flagString(cmd, "email"))
		if err != nil {
			return err
		}
		fmt.Fprintln(app.Out, msg)
		return nil
	}
	return cmd
}

func newResetCommand() *Command {
	cmd := &Command{
		Name:        "reset",
		Description: "Set a new password from a reset token",
		Flags:       flag.NewFlagSet("reset", flag.ContinueOnError),
	}
	cmd.Flags.String("token", "", "Recovery token from the reset link")
	cmd.Flags.String("password", "", "New password")
	cmd.Flags.String("confirm", "", "Password confirmation")

	cmd.Run = func(ctx context.Context, app *App, _ []string) error {
		rt, err := app.open(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		return rt.coordinator.ResetPassword(ctx, session.ResetPasswordInput{
			Token:           flagString(cmd, "token"),
			Password:        flagString(cmd, "password"),
			ConfirmPassword: optionalFlag(cmd, "confirm"),
		})
	}
	return cmd
}

func newChangePasswordCommand() *Command {
	cmd := &Command{
		Name:        "change-password",
		Description: "Change the password of the signed in identity",
		Flags:       flag.NewFlagSet("change-password", flag.ContinueOnError),
	}
	cmd.Flags.String("current", "", "Current password")
	cmd.Flags.String("new", "", "New password")
	cmd.Flags.String("confirm", "", "New password confirmation")

	cmd.Run = func(ctx context.Context, app *App, _ []string) error {
		rt, err := app.open(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		return rt.coordinator.ChangePassword(ctx, session.ChangePasswordInput{
			CurrentPassword: flagString(cmd, "current"),
			NewPassword:     flagString(cmd, "new"),
			ConfirmPassword: optionalFlag(cmd, "confirm"),
		})
	}
	return cmd
}

func newVerifyEmailCommand() *Command {
	cmd := &Command{
		Name:        "verify-email",
		Description: "Confirm the email address of an identity",
		Flags:       flag.NewFlagSet("verify-email", flag.ContinueOnError),
	}
	cmd.Flags.String("id", "", "Identity id, defaults to the signed in identity")

	cmd.Run = func(ctx context.Context, app *App, _ []string) error {
		rt, err := app.open(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		id := flagString(cmd, "id")
		if id == "" {
			id = rt.coordinator.State().UserID()
		}
		return rt.coordinator.VerifyEmail(ctx, id)
	}
	return cmd
}

var profileFields = []string{"full-name", "first-name", "last-name", "bio", "avatar-url", "website"}

func newProfileCommand() *Command {
	cmd := &Command{
		Name:        "profile",
		Description: "Show or update the profile of the signed in identity",
		Flags:       flag.NewFlagSet("profile", flag.ContinueOnError),
	}
	for _, name := range profileFields {
		cmd.Flags.String(name, "", "Set "+name)
	}

	cmd.Run = func(ctx context.Context, app *App, _ []string) error {
		rt, err := app.open(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		state := rt.coordinator.State()
		if !state.IsAuthenticated() {
			return session.ErrNotAuthenticated.Clone()
		}

		update := profileUpdate(cmd.Flags)
		if update.IsEmpty() {
			profile, err := rt.coordinator.GetProfile(ctx, state.UserID())
			if err != nil {
				return err
			}
			printJSON(app.Out, profile)
			return nil
		}

		profile, err := rt.coordinator.UpdateProfile(ctx, state.UserID(), update)
		if err != nil {
			return err
		}
		printJSON(app.Out, profile)
		return nil
	}
	return cmd
}

// profileUpdate only carries the flags given on the command line, so an
// explicit empty value clears the field.
func profileUpdate(fs *flag.FlagSet) session.ProfileUpdate {
	var u session.ProfileUpdate
	fs.Visit(func(f *flag.Flag) {
		v := session.String(f.Value.String())
		switch f.Name {
		case "full-name":
			u.FullName = v
		case "first-name":
			u.FirstName = v
		case "last-name":
			u.LastName = v
		case "bio":
			u.Bio = v
		case "avatar-url":
			u.AvatarURL = v
		case "website":
			u.Website = v
		}
	})
	return u
}
