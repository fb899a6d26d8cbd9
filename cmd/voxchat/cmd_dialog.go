package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/voxchat/internal/chat"
	"github.com/user/voxchat/internal/dialog"
	"github.com/user/voxchat/internal/types"
)

var serverURL string

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "voxchat server URL (default http.public_url)")

	rootCmd.AddCommand(dialogCmd, sendCmd)
	dialogCmd.AddCommand(dialogStartCmd, dialogListCmd, dialogMessagesCmd)

	f := dialogStartCmd.Flags()
	f.String("name", "", "patient name (required)")
	f.String("date", "", "appointment date, YYYY-MM-DD (required)")
	f.String("time", "", "appointment time, HH:MM (required)")
	f.String("doctor-type", "", "one of "+strings.Join(dialog.DoctorTypes, ", ")+" (required)")
	f.String("lang", dialog.DefaultLanguage, "one of "+strings.Join(dialog.Languages, ", "))
	f.String("confirm-data", "", "additional data sent when the patient confirms")
	f.String("cancel-data", "", "additional data sent when the patient cancels")

	dialogMessagesCmd.Flags().Int("limit", 50, "number of newest messages to show")
	sendCmd.Flags().String("role", string(types.RoleUser), "message role: user or assistant")
}

// apiClient returns a client for the running server.
func apiClient() *chat.Client {
	url := serverURL
	if url == "" {
		url = loadConfig().HTTP.PublicURL
	}
	return chat.NewClient(url, nil)
}

var dialogCmd = &cobra.Command{
	Use:   "dialog",
	Short: "Start and inspect appointment dialogs",
}

var dialogStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a dialog from the appointment form",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		var form dialog.Form
		form.Name, _ = f.GetString("name")
		form.Date, _ = f.GetString("date")
		form.Time, _ = f.GetString("time")
		form.DoctorType, _ = f.GetString("doctor-type")
		form.Lang, _ = f.GetString("lang")
		form.ConfirmAdditionalData, _ = f.GetString("confirm-data")
		form.CancelAdditionalData, _ = f.GetString("cancel-data")

		// Validate locally so mistakes are reported without a round trip.
		form.Normalize()
		if err := form.Validate(); err != nil {
			return printFieldErrors(cmd, dialog.FieldErrors(err))
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		d, err := apiClient().StartDialog(ctx, form)
		if err != nil {
			var apiErr *chat.APIError
			if errors.As(err, &apiErr) && len(apiErr.Fields) > 0 {
				return printFieldErrors(cmd, apiErr.Fields)
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Dialog %s started (remote %s).\n", d.DialogID, d.RemoteID)
		return nil
	},
}

func printFieldErrors(cmd *cobra.Command, fields map[string]string) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", k, fields[k])
	}
	return dialog.ErrInvalidForm
}

var dialogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dialogs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := apiClient().ListDialogs(cmd.Context())
		if err != nil {
			return fmt.Errorf("list dialogs: %w", err)
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No dialogs found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPATIENT\tDOCTOR\tMESSAGES\tUPDATED")
		for _, d := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				d.DialogID,
				d.Patient,
				d.DoctorType,
				d.LastMessage,
				d.UpdatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var dialogMessagesCmd = &cobra.Command{
	Use:   "messages <dialog-id>",
	Short: "Show the newest messages of a dialog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		msgs, err := apiClient().Messages(cmd.Context(), types.DialogID(args[0]), limit)
		if err != nil {
			return fmt.Errorf("get messages: %w", err)
		}
		out := cmd.OutOrStdout()
		for _, m := range msgs {
			fmt.Fprintf(out, "[%s] %s: %s\n", m.At.Local().Format("15:04:05"), m.Role, m.Content)
			for _, att := range m.Attachments {
				fmt.Fprintf(out, "    %s (%s) %s\n", att.Name, att.ContentType, att.URL)
			}
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <dialog-id> <text...>",
	Short: "Append a text message to a dialog",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		msg := types.Message{
			Role:    types.Role(role),
			Content: strings.Join(args[1:], " "),
		}
		id, err := apiClient().Append(cmd.Context(), types.DialogID(args[0]), msg)
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Message %s sent.\n", id)
		return nil
	},
}
