package cli

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/idilsaglam/livetodo/internal/auth"
)

func newAuthCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the access token sent with requests",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "login [token]",
			Short: "Save an access token (read from stdin when omitted)",
			Args:  usageArgs(cobra.MaximumNArgs(1)),
			RunE: func(cmd *cobra.Command, args []string) error {
				var token string
				if len(args) == 1 {
					token = args[0]
				} else {
					line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
					if err != nil && line == "" {
						return usagef("login: no token given")
					}
					token = line
				}
				if strings.TrimSpace(token) == "" {
					return usagef("login: empty token")
				}
				if err := auth.SetToken(token); err != nil {
					return fmt.Errorf("login: %w", err)
				}
				app.printer.OK("token saved")
				return nil
			},
		},
		&cobra.Command{
			Use:   "logout",
			Short: "Forget the saved access token",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := auth.DeleteToken(); err != nil {
					return fmt.Errorf("logout: %w", err)
				}
				app.printer.OK("logged out")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show which token requests will use",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, args []string) error {
				ti, err := auth.GetToken()
				if err != nil {
					return fmt.Errorf("status: %w", err)
				}
				th := app.printer.Theme()
				if ti == nil {
					app.printer.Println(th.Muted.Render("not logged in; requests use the API key"))
					return nil
				}
				lines := []string{th.Title.Render("Access token"), "source: " + ti.Source}
				if claims, err := auth.Claims(ti.Token); err == nil {
					if sub, err := claims.GetSubject(); err == nil && sub != "" {
						lines = append(lines, "subject: "+sub)
					}
					if role, ok := claims["role"].(string); ok {
						lines = append(lines, "role: "+role)
					}
				}
				if ti.ExpiresAt != nil {
					exp := "expires: " + ti.ExpiresAt.Local().Format(time.RFC1123)
					if ti.ExpiresAt.Before(time.Now()) {
						exp = th.Error.Render("expired: " + ti.ExpiresAt.Local().Format(time.RFC1123))
					}
					lines = append(lines, exp)
				}
				app.printer.Panel(lines)
				return nil
			},
		},
	)
	return cmd
}
