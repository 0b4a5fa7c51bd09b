package cmd

import (
	"fmt"
	"text/tabwriter"

	"roomrelay/internal/core/domain"

	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and print an access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := api.Login(cmd.Context(), loginEmail, loginPassword)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.AccessToken)
		return nil
	},
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List open rooms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rooms, err := api.ListRooms(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ROOM\tSTATE\tVIEWERS\tCOMMENTS")
		for _, r := range rooms {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", r.ID, r.State, r.ViewerCount, r.CommentCount)
		}
		return w.Flush()
	},
}

var commentsCmd = &cobra.Command{
	Use:   "comments <room>",
	Short: "Print the comment log of a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		comments, err := api.Comments(cmd.Context(), domain.RoomID(args[0]))
		if err != nil {
			return err
		}
		for _, c := range comments {
			printComment(cmd, c.Timestamp, authorOf(c.AuthorName, c.Author), c.Text)
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "account password")
	_ = loginCmd.MarkFlagRequired("email")
	_ = loginCmd.MarkFlagRequired("password")
}
