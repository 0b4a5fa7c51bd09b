package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/pkg/client"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

const sayTimeout = 10 * time.Second

var watchCmd = &cobra.Command{
	Use:   "watch <room>",
	Short: "Join a room as a viewer and print comments as they arrive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := join(ctx, domain.RoomID(args[0]))
		if err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			s.Close()
		}()

		for {
			msg, err := s.Next()
			if err != nil {
				if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return nil
				}
				return err
			}
			switch msg.Type {
			case "comments":
				for _, c := range msg.Comments {
					printComment(cmd, c.Timestamp, authorOf(c.AuthorName, c.Author), c.Text)
				}
			case "comment":
				printComment(cmd, time.Now(), authorOf(msg.AuthorName, msg.Author), msg.Text)
			case "room-closed":
				fmt.Fprintf(cmd.OutOrStdout(), "room closed: %s\n", msg.Reason)
				return nil
			case "error":
				fmt.Fprintf(cmd.ErrOrStderr(), "error %s: %s\n", msg.Code, msg.Message)
			}
		}
	},
}

var sayCmd = &cobra.Command{
	Use:   "say <room> <text>",
	Short: "Post one comment to a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), sayTimeout)
		defer cancel()

		roomID := domain.RoomID(args[0])
		s, err := join(ctx, roomID)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Comment(roomID, args[1]); err != nil {
			return err
		}
		deadline, _ := ctx.Deadline()
		_ = s.SetReadDeadline(deadline)
		for {
			msg, err := s.Next()
			if err != nil {
				return err
			}
			switch msg.Type {
			case "comment":
				if msg.Text == args[1] {
					return nil
				}
			case "error":
				return fmt.Errorf("%s: %s", msg.Code, msg.Message)
			}
		}
	},
}

// join dials the server and joins roomID as a viewer, waiting for the
// server to confirm.
func join(ctx context.Context, roomID domain.RoomID) (*client.Session, error) {
	s, err := api.Dial(ctx, client.DialOptions{})
	if err != nil {
		return nil, err
	}
	if err := s.Join(roomID, domain.RoleViewer); err != nil {
		s.Close()
		return nil, err
	}

	_ = s.SetReadDeadline(time.Now().Add(sayTimeout))
	for {
		msg, err := s.Next()
		if err != nil {
			s.Close()
			return nil, err
		}
		switch msg.Type {
		case "room-joined":
			_ = s.SetReadDeadline(time.Time{})
			return s, nil
		case "no-stream":
			s.Close()
			return nil, errors.New("no active stream in room " + string(roomID))
		case "error":
			s.Close()
			return nil, fmt.Errorf("%s: %s", msg.Code, msg.Message)
		}
	}
}

func authorOf(name string, id domain.ConnID) string {
	if name != "" {
		return name
	}
	return string(id)
}

func printComment(cmd *cobra.Command, at time.Time, author, text string) {
	fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", at.Format("15:04:05"), author, text)
}
