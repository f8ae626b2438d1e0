package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/icanbwell/credcache/pkg/settings"
	"github.com/icanbwell/credcache/pkg/tokens"
	"github.com/icanbwell/credcache/pkg/tokens/store"
)

var (
	tokensListProvider string
	tokensListFormat   string
)

func newTokensCommand() *cobra.Command {
	tokensCmd := &cobra.Command{
		Use:   "tokens",
		Short: "Inspect and maintain the durable token store",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored token records",
		Long: `List stored token records with their lifecycle metadata.
Token values are never printed; only expiry and audit fields are shown.`,
		RunE: tokensListCmdFunc,
	}
	listCmd.Flags().StringVar(&tokensListProvider, "provider", "", "Only show records for this provider")
	listCmd.Flags().StringVar(&tokensListFormat, "format", FormatText, "Output format (json or text)")

	deleteCmd := &cobra.Command{
		Use:   "delete <provider> <referring-subject>",
		Short: "Delete one token record (revocation)",
		Args:  cobra.ExactArgs(2),
		RunE:  tokensDeleteCmdFunc,
	}

	purgeCmd := &cobra.Command{
		Use:   "purge-expired",
		Short: "Remove records whose access and refresh tokens have both expired",
		RunE:  tokensPurgeCmdFunc,
	}

	tokensCmd.AddCommand(listCmd)
	tokensCmd.AddCommand(deleteCmd)
	tokensCmd.AddCommand(purgeCmd)
	return tokensCmd
}

// openStore builds the token store from the environment settings.
func openStore(ctx context.Context) (store.Store, error) {
	s, err := settings.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %v", err)
	}
	st, err := store.New(ctx, s.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %v", err)
	}
	return st, nil
}

func tokensListCmdFunc(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.List(ctx, store.ListFilter{Provider: tokensListProvider})
	if err != nil {
		return fmt.Errorf("failed to list token records: %v", err)
	}

	if len(records) == 0 {
		fmt.Println("No token records found")
		return nil
	}

	if tokensListFormat == FormatJSON {
		return printRecordsJSON(records)
	}
	printRecordsText(records)
	return nil
}

// recordView is the redacted JSON shape for the list command. It mirrors
// TokenRecord minus the token values.
type recordView struct {
	Provider         string    `json:"provider"`
	ReferringSubject string    `json:"referring_subject"`
	Subject          string    `json:"subject,omitempty"`
	Email            string    `json:"email,omitempty"`
	Audience         string    `json:"audience,omitempty"`
	AccessExpiresAt  time.Time `json:"access_expires_at,omitzero"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitzero"`
	Created          time.Time `json:"created"`
	Updated          time.Time `json:"updated,omitzero"`
	Refreshed        time.Time `json:"refreshed,omitzero"`
}

func newRecordView(r *tokens.TokenRecord) recordView {
	view := recordView{
		Provider:         r.Provider,
		ReferringSubject: r.ReferringSubject,
		Subject:          r.Subject,
		Email:            r.Email,
		Audience:         r.Audience,
		Created:          r.Created,
		Updated:          r.Updated,
		Refreshed:        r.Refreshed,
	}
	if r.AccessToken != nil {
		view.AccessExpiresAt = r.AccessToken.ExpiresAt
	}
	if r.RefreshToken != nil {
		view.RefreshExpiresAt = r.RefreshToken.ExpiresAt
	}
	return view
}

func printRecordsJSON(records []*tokens.TokenRecord) error {
	views := make([]recordView, 0, len(records))
	for _, r := range records {
		views = append(views, newRecordView(r))
	}
	jsonData, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %v", err)
	}
	fmt.Println(string(jsonData))
	return nil
}

func printRecordsText(records []*tokens.TokenRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tREFERRING SUBJECT\tAUDIENCE\tACCESS EXPIRES\tREFRESH EXPIRES\tREFRESHED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Provider,
			r.ReferringSubject,
			r.Audience,
			formatExpiry(r.AccessToken),
			formatExpiry(r.RefreshToken),
			formatStamp(r.Refreshed),
		)
	}
	if err := w.Flush(); err != nil {
		fmt.Printf("Warning: error flushing output: %v\n", err)
	}
}

func formatExpiry(t *tokens.Token) string {
	if t == nil {
		return "-"
	}
	if t.ExpiresAt.IsZero() {
		return "unknown"
	}
	if t.ExpiresAt.Before(time.Now()) {
		return "expired"
	}
	return t.ExpiresAt.Local().Format(time.RFC3339)
}

func formatStamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

func tokensDeleteCmdFunc(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	provider, referringSubject := args[0], args[1]

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Delete(ctx, provider, referringSubject); err != nil {
		return fmt.Errorf("failed to delete token record: %v", err)
	}
	fmt.Printf("Deleted token record for provider %q subject %q\n", provider, referringSubject)
	return nil
}

func tokensPurgeCmdFunc(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	now := time.Now()

	// The SQLite backend can purge in one statement.
	if sqliteStore, ok := st.(*store.SQLiteStore); ok {
		purged, err := sqliteStore.PurgeUnusable(ctx, now)
		if err != nil {
			return fmt.Errorf("failed to purge token records: %v", err)
		}
		fmt.Printf("Purged %d expired token record(s)\n", purged)
		return nil
	}

	records, err := st.List(ctx, store.ListFilter{})
	if err != nil {
		return fmt.Errorf("failed to list token records: %v", err)
	}

	purged := 0
	for _, r := range records {
		if !r.Exhausted(0) {
			continue
		}
		if err := st.Delete(ctx, r.Provider, r.ReferringSubject); err != nil {
			return fmt.Errorf("failed to delete token record %s: %v", r.Key(), err)
		}
		purged++
	}
	fmt.Printf("Purged %d expired token record(s)\n", purged)
	return nil
}
