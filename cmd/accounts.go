package cmd

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/relaycore/dispatch-proxy/internal/accountstore"
	"github.com/relaycore/dispatch-proxy/internal/auth"
	"github.com/relaycore/dispatch-proxy/internal/provider/codex"
	"github.com/relaycore/dispatch-proxy/internal/provider/copilot"
	"github.com/relaycore/dispatch-proxy/internal/utils"
)

// accountsCmd represents the accounts command
var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage accounts for providers",
	Long: `Manage the pool of accounts used by providers (Antigravity, Codex, and Copilot).

Antigravity accounts use OAuth authentication with Google Cloud Code API.
Codex accounts use a pasted ChatGPT session token.
Copilot accounts use GitHub Device OAuth authentication.

Multiple accounts enable load balancing and failover when rate limits are hit.`,
}

var accountsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new account",
	Long: `Add a new account to the pool.

If no --provider flag is specified, you will be prompted to select one.

Providers:
  antigravity - Google Cloud Code API (requires OAuth authentication)
  codex       - ChatGPT-Codex backend (requires a pasted session token)
  copilot     - GitHub Copilot (requires GitHub OAuth authentication)

Examples:
  dispatch-proxy accounts add                        # Interactive provider selection
  dispatch-proxy accounts add --provider antigravity # Add Antigravity account (OAuth)
  dispatch-proxy accounts add --provider codex       # Add Codex account (pasted token)
  dispatch-proxy accounts add --provider copilot     # Add Copilot account (GitHub OAuth)`,
	RunE: runAccountsAdd,
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured accounts",
	RunE:  runAccountsList,
}

var accountsRemoveCmd = &cobra.Command{
	Use:   "remove [account-id]",
	Short: "Remove an account",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAccountsRemove,
}

var accountsVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify account credentials are still valid",
	RunE:  runAccountsVerify,
}

var providerArg string

func init() {
	rootCmd.AddCommand(accountsCmd)

	accountsCmd.AddCommand(accountsAddCmd)
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsRemoveCmd)
	accountsCmd.AddCommand(accountsVerifyCmd)

	accountsAddCmd.Flags().StringVar(&providerArg, "provider", "", "Provider type (antigravity, codex, or copilot)")
}

func allProviders() []string { return []string{"antigravity", "codex", "copilot"} }

func runAccountsAdd(cmd *cobra.Command, args []string) error {
	provider := strings.ToLower(providerArg)

	if provider == "" {
		var err error
		provider, err = selectProvider()
		if err != nil {
			if err.Error() == "cancelled" {
				fmt.Println("Account addition cancelled.")
				return nil
			}
			return err
		}
		utils.Info("Selected provider: %s", provider)
	}

	switch provider {
	case "antigravity", "codex", "copilot":
	default:
		return fmt.Errorf("invalid provider: %s (must be 'antigravity', 'codex', or 'copilot')", provider)
	}

	utils.Info("Adding new %s account...", provider)

	store := accountstore.NewStore()

	switch provider {
	case "codex":
		return addCodexAccount(store)
	case "copilot":
		return addCopilotAccount(store)
	default:
		return addAntigravityAccount(store)
	}
}

func addAntigravityAccount(store *accountstore.Store) error {
	authURL, pkce, err := auth.GetAuthorizationURL()
	if err != nil {
		return fmt.Errorf("failed to generate authorization URL: %w", err)
	}

	// Always use manual code entry (works in containers, SSH, headless servers)
	utils.Info("OAuth flow: manual code input")
	fmt.Println()
	fmt.Println("Please visit the following URL to authorize:")
	fmt.Println()
	fmt.Println("  " + authURL)
	fmt.Println()
	fmt.Print("Paste the callback URL or authorization code here: ")

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	code, _, err := auth.ExtractCodeFromInput(strings.TrimSpace(input))
	if err != nil {
		return fmt.Errorf("failed to extract code: %w", err)
	}

	utils.Info("Exchanging code for tokens...")
	result, err := auth.CompleteOAuthFlow(code, pkce.Verifier)
	if err != nil {
		return fmt.Errorf("OAuth flow failed: %w", err)
	}

	now := time.Now()
	newAccount := &accountstore.Account{
		ID:           result.Email,
		Provider:     "antigravity",
		Email:        result.Email,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ProjectID:    result.ProjectID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := store.SaveAccount(newAccount); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	utils.Success("Successfully added account: %s", result.Email)
	if result.ProjectID != "" {
		utils.Info("Project ID: %s", result.ProjectID)
	}

	return nil
}

// addCodexAccount stores a ChatGPT-Codex session: the backend has no OAuth
// handshake of its own here, so the access token and ChatGPT account id are
// pasted in directly, the same manual-entry idiom the Antigravity flow uses
// so that it works on headless hosts.
func addCodexAccount(store *accountstore.Store) error {
	fmt.Println("Codex accounts are identified by a ChatGPT access token and account id.")
	fmt.Println("These can be read from the chatgpt.com session used by the Codex CLI/IDE extension.")
	fmt.Println()

	accessToken, err := readSecret("Enter ChatGPT access token: ")
	if err != nil {
		return err
	}
	if accessToken == "" {
		return fmt.Errorf("access token is required for Codex accounts")
	}

	fmt.Print("Enter ChatGPT account id: ")
	reader := bufio.NewReader(os.Stdin)
	accountID, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("account id is required for Codex accounts")
	}

	hash := sha256.Sum256([]byte(accessToken))
	id := fmt.Sprintf("codex-%s", hex.EncodeToString(hash[:4]))

	now := time.Now()
	newAccount := &accountstore.Account{
		ID:          id,
		Provider:    "codex",
		Login:       accountID,
		AccessToken: accessToken,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := store.SaveAccount(newAccount); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	utils.Success("Successfully added Codex account: %s", id)
	utils.Info("Run 'accounts verify' to confirm the token is still valid.")
	return nil
}

func addCopilotAccount(store *accountstore.Store) error {
	accountType, err := selectCopilotAccountType()
	if err != nil {
		if err.Error() == "cancelled" {
			fmt.Println("Account addition cancelled.")
			return nil
		}
		return err
	}

	utils.Info("Using account type: %s", accountType)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	githubToken, err := performGitHubDeviceOAuth(ctx)
	if err != nil {
		return err
	}

	user, err := verifyCopilotAccess(ctx, githubToken, accountType)
	if err != nil {
		return err
	}

	return saveCopilotAccount(store, githubToken, user, accountType)
}

// performGitHubDeviceOAuth initiates and completes the GitHub Device OAuth flow.
func performGitHubDeviceOAuth(ctx context.Context) (string, error) {
	utils.Info("Initiating GitHub Device OAuth flow...")
	deviceCode, err := copilot.GetDeviceCode(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get device code: %w", err)
	}

	fmt.Println()
	fmt.Println("Please visit the following URL to authorize:")
	fmt.Println()
	fmt.Printf("  %s\n", deviceCode.VerificationURI)
	fmt.Println()
	fmt.Printf("Enter this code: %s\n", deviceCode.UserCode)
	fmt.Println()
	fmt.Println("Waiting for authorization...")

	githubToken, err := copilot.PollAccessToken(ctx, deviceCode)
	if err != nil {
		return "", fmt.Errorf("authorization failed: %w", err)
	}

	utils.Success("GitHub authorization successful!")
	return githubToken, nil
}

// verifyCopilotAccess verifies the user has Copilot access and returns user info.
func verifyCopilotAccess(ctx context.Context, githubToken, accountType string) (*copilot.GitHubUser, error) {
	utils.Info("Fetching GitHub user info...")
	user, err := copilot.GetGitHubUser(ctx, githubToken)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}

	utils.Info("Verifying Copilot access...")
	if _, err := copilot.GetCopilotToken(ctx, githubToken, copilot.AccountType(accountType)); err != nil {
		return nil, fmt.Errorf("copilot verification failed: %w", err)
	}

	utils.Success("Copilot access verified!")
	return user, nil
}

// saveCopilotAccount saves the Copilot account to the store.
func saveCopilotAccount(store *accountstore.Store, githubToken string, user *copilot.GitHubUser, accountType string) error {
	login := user.Login
	if login == "" {
		hash := sha256.Sum256([]byte(githubToken))
		login = fmt.Sprintf("copilot-%s", hex.EncodeToString(hash[:4]))
	}

	now := time.Now()
	newAccount := &accountstore.Account{
		ID:           login,
		Provider:     "copilot",
		Email:        user.Email,
		Login:        login,
		RefreshToken: githubToken,
		AccountType:  accountType,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := store.SaveAccount(newAccount); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	utils.Success("Successfully added Copilot account: %s", login)
	return nil
}

func selectCopilotAccountType() (string, error) {
	accountTypes := []struct {
		name        string
		description string
	}{
		{"individual", "Personal GitHub Copilot subscription"},
		{"business", "GitHub Copilot Business (organization)"},
		{"enterprise", "GitHub Copilot Enterprise"},
	}

	fmt.Println("Select your Copilot account type:")
	fmt.Println()

	for i, t := range accountTypes {
		fmt.Printf("  %d. %s - %s\n", i+1, t.name, t.description)
	}

	fmt.Println()
	fmt.Print("Enter account type number (or 'q' to cancel): ")

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}

	input = strings.TrimSpace(input)
	if input == "q" || input == "" {
		return "", fmt.Errorf("cancelled")
	}

	var num int
	if _, err := fmt.Sscanf(input, "%d", &num); err != nil || num < 1 || num > len(accountTypes) {
		return "", fmt.Errorf("invalid selection: %s (must be 1-%d)", input, len(accountTypes))
	}

	return accountTypes[num-1].name, nil
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	store := accountstore.NewStore()

	var total int
	for _, provider := range allProviders() {
		summaries, err := store.ListSummaries(provider)
		if err != nil {
			return fmt.Errorf("failed to list %s accounts: %w", provider, err)
		}
		total += len(summaries)
	}

	if total == 0 {
		fmt.Println("No accounts configured.")
		fmt.Println()
		fmt.Println("To add an account, run:")
		fmt.Println("  dispatch-proxy accounts add")
		return nil
	}

	fmt.Printf("Configured accounts (%d):\n\n", total)

	n := 0
	for _, provider := range allProviders() {
		summaries, err := store.ListSummaries(provider)
		if err != nil {
			return err
		}
		for _, sum := range summaries {
			n++
			status := "OK"
			statusColor := "\033[32m" // green
			if store.IsRateLimited(provider, sum.ID) {
				until := store.RateLimitedUntil(provider, sum.ID)
				status = fmt.Sprintf("RATE-LIMITED (%s)", utils.FormatDuration(time.Until(until)))
				statusColor = "\033[33m" // yellow
			}

			fmt.Printf("  %d. %s\n", n, sum.ID)
			fmt.Printf("     Provider: %s\n", provider)
			if sum.Email != "" {
				fmt.Printf("     Email: %s\n", sum.Email)
			}
			fmt.Printf("     Status: %s%s\033[0m\n", statusColor, status)
			if last := store.LastSuccessAt(provider, sum.ID); !last.IsZero() {
				fmt.Printf("     Last success: %s\n", last.Format(time.RFC3339))
			}
			fmt.Println()
		}
	}

	return nil
}

func runAccountsRemove(cmd *cobra.Command, args []string) error {
	store := accountstore.NewStore()

	type entry struct {
		provider string
		id       string
	}
	var entries []entry
	for _, provider := range allProviders() {
		summaries, err := store.ListSummaries(provider)
		if err != nil {
			return err
		}
		for _, sum := range summaries {
			entries = append(entries, entry{provider: provider, id: sum.ID})
		}
	}

	if len(entries) == 0 {
		fmt.Println("No accounts to remove.")
		return nil
	}

	var target entry
	if len(args) > 0 {
		id := args[0]
		var found bool
		for _, e := range entries {
			if e.id == id {
				target = e
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("no account found with id %q", id)
		}
	} else {
		fmt.Println("Select an account to remove:")
		fmt.Println()

		for i, e := range entries {
			fmt.Printf("  %d. %s (%s)\n", i+1, e.id, e.provider)
		}

		fmt.Println()
		fmt.Print("Enter account number (or 'q' to cancel): ")

		reader := bufio.NewReader(os.Stdin)
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "q" || input == "" {
			fmt.Println("Cancelled.")
			return nil
		}

		var num int
		if _, err := fmt.Sscanf(input, "%d", &num); err != nil || num < 1 || num > len(entries) {
			return fmt.Errorf("invalid selection: %s", input)
		}

		target = entries[num-1]
	}

	if err := store.RemoveAccount(target.provider, target.id); err != nil {
		return fmt.Errorf("failed to remove account: %w", err)
	}

	utils.Success("Removed account: %s (%s)", target.id, target.provider)
	return nil
}

func runAccountsVerify(cmd *cobra.Command, args []string) error {
	store := accountstore.NewStore()

	type entry struct {
		provider string
		acc      *accountstore.Account
	}
	var entries []entry
	for _, provider := range allProviders() {
		accounts, err := store.ListAccounts(provider)
		if err != nil {
			return err
		}
		for _, acc := range accounts {
			entries = append(entries, entry{provider: provider, acc: acc})
		}
	}

	if len(entries) == 0 {
		fmt.Println("No accounts to verify.")
		return nil
	}

	utils.Info("Verifying %d account(s)...", len(entries))
	fmt.Println()

	allValid := true

	for i, e := range entries {
		fmt.Printf("  %d. %s (%s)... ", i+1, e.acc.ID, e.provider)

		var verifyErr error
		switch e.provider {
		case "copilot":
			verifyErr = verifyCopilotAccount(e.acc)
		case "codex":
			verifyErr = verifyCodexAccount(e.acc)
		default:
			verifyErr = verifyAntigravityAccount(e.acc)
		}

		if verifyErr != nil {
			fmt.Printf("\033[31mFAILED\033[0m\n")
			fmt.Printf("     Error: %v\n", verifyErr)
			allValid = false
			continue
		}

		fmt.Printf("\033[32mOK\033[0m\n")
	}

	fmt.Println()
	if allValid {
		utils.Success("All accounts verified successfully!")
	} else {
		utils.Warn("Some accounts failed verification. Run 'accounts add' to re-authenticate.")
	}

	return nil
}

func verifyAntigravityAccount(acc *accountstore.Account) error {
	if acc.AccessToken == "" {
		return fmt.Errorf("no access token on file")
	}
	_, err := auth.GetUserEmail(acc.AccessToken)
	return err
}

func verifyCopilotAccount(acc *accountstore.Account) error {
	if acc.RefreshToken == "" {
		return fmt.Errorf("no GitHub token on file")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := copilot.GetCopilotToken(ctx, acc.RefreshToken, copilot.AccountType(acc.AccountType))
	return err
}

// verifyCodexAccount is the only provider without a dedicated lightweight
// check endpoint; it sends a minimal chat-completion instead.
func verifyCodexAccount(acc *accountstore.Account) error {
	if acc.AccessToken == "" {
		return fmt.Errorf("no access token on file")
	}
	client := codex.NewClient()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	opts := codex.RequestOptions{Token: acc.AccessToken, ChatGPTAccountID: acc.Login}
	payload := &codex.ChatCompletionsPayload{
		Model:     "gpt-5",
		Messages:  []codex.Message{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	}
	_, err := client.SendChatCompletion(ctx, opts, payload)
	return err
}

// readSecret reads a hidden value from stdin when attached to a terminal,
// falling back to plain line input otherwise (e.g. piped input).
func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(input), nil
}

// selectProvider shows an interactive menu to select a provider.
func selectProvider() (string, error) {
	providers := []struct {
		name        string
		description string
	}{
		{"antigravity", "Google Cloud Code (OAuth authentication)"},
		{"codex", "ChatGPT-Codex backend (pasted session token)"},
		{"copilot", "GitHub Copilot (GitHub OAuth authentication)"},
	}

	fmt.Println("Select a provider to add:")
	fmt.Println()

	for i, p := range providers {
		fmt.Printf("  %d. %s - %s\n", i+1, p.name, p.description)
	}

	fmt.Println()
	fmt.Print("Enter provider number (or 'q' to cancel): ")

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}

	input = strings.TrimSpace(input)
	if input == "q" || input == "" {
		return "", fmt.Errorf("cancelled")
	}

	var num int
	if _, err := fmt.Sscanf(input, "%d", &num); err != nil || num < 1 || num > len(providers) {
		return "", fmt.Errorf("invalid selection: %s (must be 1-%d)", input, len(providers))
	}

	return providers[num-1].name, nil
}
