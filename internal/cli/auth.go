package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"shopfloor/api/internal/backend"
	"shopfloor/api/internal/session"
	"shopfloor/api/internal/tier"
)

// authFailure turns a session error into an exit error. The store has
// already printed the notice.
func authFailure(op string, err error) error {
	if errors.Is(err, session.ErrNoBackend) {
		return WrapExitError(ExitCommandError, op, err)
	}
	return WrapExitError(ExitFailure, op, err)
}

// leavePublicDemo forgets a stored public-demo choice once a real sign-in
// succeeded.
func (rt *runtime) leavePublicDemo() error {
	if !rt.profile.PublicDemo {
		return nil
	}
	rt.profile.PublicDemo = false
	return rt.profile.Save()
}

func NewLoginCommand(opts *RootOptions) *cobra.Command {
	var creds backend.Credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(rt *runtime) error {
				id, err := rt.session.SignIn(cmd.Context(), creds)
				if err != nil {
					return authFailure("login", err)
				}
				if err := rt.leavePublicDemo(); err != nil {
					return err
				}
				return printIdentity(rt, id, true)
			})
		},
	}
	cmd.Flags().StringVar(&creds.Email, "email", "", "account email")
	cmd.Flags().StringVar(&creds.Password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func NewSignupCommand(opts *RootOptions) *cobra.Command {
	var (
		creds backend.Credentials
		name  string
	)
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account (sign in afterwards)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(rt *runtime) error {
				profile := backend.Profile{}
				if name != "" {
					profile["display_name"] = name
				}
				if err := rt.session.SignUp(cmd.Context(), creds, profile); err != nil {
					return authFailure("signup", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&creds.Email, "email", "", "account email")
	cmd.Flags().StringVar(&creds.Password, "password", "", "account password")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func NewLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and leave demo mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(rt *runtime) error {
				if err := rt.session.SignOut(cmd.Context()); err != nil {
					return authFailure("logout", err)
				}
				rt.profile.PublicDemo = false
				rt.profile.Session = nil
				return rt.profile.Save()
			})
		},
	}
}

func NewDemoCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Sign in with the shared demo account (read-only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(rt *runtime) error {
				id, err := rt.session.SignInAsNamedDemo(cmd.Context())
				if err != nil {
					return authFailure("demo", err)
				}
				if err := rt.leavePublicDemo(); err != nil {
					return err
				}
				return printIdentity(rt, id, true)
			})
		},
	}
}

func NewPublicDemoCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "public-demo",
		Short: "Browse as an anonymous demo visitor from now on",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(rt *runtime) error {
				id := rt.session.EnterPublicDemo()
				rt.profile.PublicDemo = true
				if err := rt.profile.Save(); err != nil {
					return WrapExitError(ExitFailure, "save profile", err)
				}
				return printIdentity(rt, id, true)
			})
		},
	}
}

func NewWhoamiCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the active identity and what it may do",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(rt *runtime) error {
				id, ok := rt.session.Identity()
				return printIdentity(rt, id, ok)
			})
		},
	}
}

type identityOutput struct {
	SignedIn  bool   `json:"signedIn"`
	UserID    string `json:"userId,omitempty"`
	Name      string `json:"displayName,omitempty"`
	Email     string `json:"email,omitempty"`
	Tier      string `json:"tier"`
	CanMutate bool   `json:"canMutate"`
	Backend   string `json:"backend,omitempty"`
}

func printIdentity(rt *runtime, id session.Identity, ok bool) error {
	out := identityOutput{
		SignedIn: ok,
		Tier:     tier.None.String(),
		Backend:  rt.cfg.APIURL,
	}
	if ok {
		out.UserID = id.SubjectID
		out.Name = id.DisplayLabel
		out.Email = id.Email
		out.Tier = id.Tier.String()
		out.CanMutate = tier.CanMutate(id.Tier)
	}
	if rt.out.JSON() {
		return rt.out.WriteJSON(out)
	}
	w := rt.out.Writer
	if !ok {
		fmt.Fprintln(w, "Not signed in")
		return nil
	}
	fmt.Fprintf(w, "%s <%s>\n", out.Name, out.Email)
	fmt.Fprintf(w, "tier: %s\n", out.Tier)
	if out.CanMutate {
		fmt.Fprintln(w, "access: read-write")
	} else {
		fmt.Fprintln(w, "access: read-only")
	}
	return nil
}
