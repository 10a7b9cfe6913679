package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/avatar-ingest/internal/avatar"
	"github.com/JakeFAU/avatar-ingest/internal/id/uuid"
)

type ingestOptions struct {
	ownerType string
	ownerID   string
}

// newIngestCmd runs a single avatar acquisition inline and prints the result.
func newIngestCmd() *cobra.Command {
	opts := &ingestOptions{}
	cmd := &cobra.Command{
		Use:   "ingest <url>",
		Short: "Attaches the avatar at <url> to one owner",
		Long: `Downloads, validates, and attaches one avatar without going through the
queue. The outcome is printed as JSON; a failed outcome exits non-zero.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngestCommand(cmd, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.ownerType, "owner-type", "Contact", "owner record type")
	cmd.Flags().StringVar(&opts.ownerID, "owner-id", "", "owner record identifier")
	_ = cmd.MarkFlagRequired("owner-id")
	return cmd
}

type ingestOutput struct {
	RequestID  string             `json:"request_id"`
	Outcome    avatar.Outcome     `json:"outcome"`
	Reason     string             `json:"reason,omitempty"`
	Attachment *avatar.Attachment `json:"attachment,omitempty"`
}

func runIngestCommand(cmd *cobra.Command, opts *ingestOptions, rawURL string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ref := avatar.OwnerRef{Type: strings.TrimSpace(opts.ownerType), ID: strings.TrimSpace(opts.ownerID)}
	if ref.IsZero() {
		return errors.New("--owner-type and --owner-id are required")
	}
	id, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("generate request id: %w", err)
	}

	res := appInstance.Ingest(cmd.Context(), id, avatar.Request{Owner: ref, RawURL: rawURL})
	appInstance.Logger().Info("ingest command finished",
		zap.String("request_id", id),
		zap.String("outcome", string(res.Outcome)),
	)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(ingestOutput{
		RequestID:  id,
		Outcome:    res.Outcome,
		Reason:     res.Reason,
		Attachment: res.Attachment,
	}); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if res.Outcome == avatar.OutcomeFailed {
		return fmt.Errorf("ingest failed: %s", res.Reason)
	}
	return nil
}
