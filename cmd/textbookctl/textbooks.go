package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sahilchouksey/study-textbook-api/services"
	"github.com/spf13/cobra"
)

var (
	uploadTitle   string
	uploadWatch   bool
	watchInterval time.Duration
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file.pdf>",
	Short: "Upload a textbook PDF and start processing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title := uploadTitle
		if title == "" {
			title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}

		textbook, err := newClient().Upload(cmd.Context(), title, args[0])
		if err != nil {
			return err
		}
		if !uploadWatch {
			return output(cmd.OutOrStdout(), textbook)
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "Uploaded %s (%d pages)\n", textbook.ID, textbook.TotalPages)
		return watch(cmd, textbook.ID)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <textbook-id>",
	Short: "Show the processing status of a textbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid textbook id: %w", err)
		}
		status, err := newClient().Status(cmd.Context(), id)
		if err != nil {
			return err
		}
		return output(cmd.OutOrStdout(), status)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <textbook-id>",
	Short: "Follow processing until both tracks finish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid textbook id: %w", err)
		}
		return watch(cmd, id)
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadTitle, "title", "", "textbook title (default: file name)")
	uploadCmd.Flags().BoolVar(&uploadWatch, "watch", false, "follow processing after the upload")

	for _, cmd := range []*cobra.Command{uploadCmd, watchCmd} {
		cmd.Flags().DurationVar(&watchInterval, "interval", services.DefaultPollInterval, "poll interval")
	}
}

func watch(cmd *cobra.Command, id uuid.UUID) error {
	final, err := newClient().Watch(cmd.Context(), id, watchInterval, func(s *services.TextbookStatus) error {
		fmt.Fprintln(cmd.ErrOrStderr(), progressLine(s))
		return nil
	})
	if err != nil {
		return err
	}
	return output(cmd.OutOrStdout(), final)
}

func progressLine(s *services.TextbookStatus) string {
	line := fmt.Sprintf("extraction %-10s %3d%%   ai %-10s %3d%%",
		s.ProcessingStatus, s.ProcessingProgress, s.AIProcessingStatus, s.AIProcessingProgress)
	if s.ProcessingError != nil {
		line += "   extraction error: " + *s.ProcessingError
	}
	if s.AIProcessingError != nil {
		line += "   ai error: " + *s.AIProcessingError
	}
	return line
}
