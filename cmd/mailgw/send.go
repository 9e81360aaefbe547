package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nhle/mailgateway/internal/gateway"
)

func sendCmd(opts *globalOptions) *cobra.Command {
	var params gateway.SendParams
	var attach []string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message through the provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range attach {
				att, err := readAttachment(path)
				if err != nil {
					return err
				}
				params.Attachments = append(params.Attachments, att)
			}

			e, err := openEnv(opts)
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.service.SendEmail(cmd.Context(), params); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "accepted for delivery")
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&params.To, "to", nil, "recipient address (repeatable)")
	cmd.Flags().StringSliceVar(&params.CC, "cc", nil, "cc address (repeatable)")
	cmd.Flags().StringSliceVar(&params.BCC, "bcc", nil, "bcc address (repeatable)")
	cmd.Flags().StringVar(&params.Subject, "subject", "", "subject line")
	cmd.Flags().StringVar(&params.Body, "body", "", "HTML body")
	cmd.Flags().StringSliceVar(&attach, "attach", nil, "file to attach (repeatable)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func readAttachment(path string) (gateway.AttachmentParam, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return gateway.AttachmentParam{}, fmt.Errorf("reading attachment: %w", err)
	}
	return gateway.AttachmentParam{
		Name:    filepath.Base(path),
		Content: base64.StdEncoding.EncodeToString(data),
	}, nil
}
