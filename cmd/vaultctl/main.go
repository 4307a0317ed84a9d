package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"vaultlite/internal/platform"
	"vaultlite/internal/session"
	"vaultlite/internal/totp"
	"vaultlite/internal/vault"
)

func main() {
	_ = platform.DisableCoreDumps()

	// ---- status ----
	statusCmd := flag.NewFlagSet("status", flag.ExitOnError)
	statusServer := statusCmd.String("server", "http://localhost:8080", "vaultd base URL")

	// ---- setup ----
	setupCmd := flag.NewFlagSet("setup", flag.ExitOnError)
	setupServer := setupCmd.String("server", "http://localhost:8080", "vaultd base URL")

	// ---- add ----
	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	addServer := addCmd.String("server", "http://localhost:8080", "vaultd base URL")
	addName := addCmd.String("name", "", "item name")
	addUser := addCmd.String("user", "", "username")
	addPass := addCmd.String("pass", "", "password or gen:N to generate N chars")
	addURI := addCmd.String("uri", "", "site URI")
	addTOTP := addCmd.String("totp", "", "TOTP secret (base32), or gen for a fresh one")

	// ---- note ----
	noteCmd := flag.NewFlagSet("note", flag.ExitOnError)
	noteServer := noteCmd.String("server", "http://localhost:8080", "vaultd base URL")
	noteName := noteCmd.String("name", "", "note name")
	noteContent := noteCmd.String("content", "", "note content")

	// ---- list ----
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	listServer := listCmd.String("server", "http://localhost:8080", "vaultd base URL")
	listType := listCmd.String("type", "", "filter by type (e.g. login)")
	listQuery := listCmd.String("q", "", "free-text filter over name/user/uri/content")

	// ---- get ----
	getCmd := flag.NewFlagSet("get", flag.ExitOnError)
	getServer := getCmd.String("server", "http://localhost:8080", "vaultd base URL")
	getID := getCmd.String("id", "", "item id")

	// ---- totp ----
	totpCmd := flag.NewFlagSet("totp", flag.ExitOnError)
	totpServer := totpCmd.String("server", "http://localhost:8080", "vaultd base URL")
	totpID := totpCmd.String("id", "", "item id")

	// ---- setpass ----
	setCmd := flag.NewFlagSet("setpass", flag.ExitOnError)
	setServer := setCmd.String("server", "http://localhost:8080", "vaultd base URL")
	setID := setCmd.String("id", "", "item id")
	setPass := setCmd.String("pass", "", "new password or gen:N")

	// ---- delete ----
	delCmd := flag.NewFlagSet("delete", flag.ExitOnError)
	delServer := delCmd.String("server", "http://localhost:8080", "vaultd base URL")
	delID := delCmd.String("id", "", "item id")

	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "status":
		_ = statusCmd.Parse(os.Args[2:])
		dieIf(cmdStatus(*statusServer))

	case "setup":
		_ = setupCmd.Parse(os.Args[2:])
		dieIf(cmdSetup(*setupServer))

	case "add":
		_ = addCmd.Parse(os.Args[2:])
		dieIf(cmdAdd(*addServer, *addName, *addUser, *addPass, *addURI, *addTOTP))

	case "note":
		_ = noteCmd.Parse(os.Args[2:])
		dieIf(cmdNote(*noteServer, *noteName, *noteContent))

	case "list":
		_ = listCmd.Parse(os.Args[2:])
		dieIf(cmdList(*listServer, *listType, *listQuery))

	case "get":
		_ = getCmd.Parse(os.Args[2:])
		dieIf(cmdGet(*getServer, *getID))

	case "totp":
		_ = totpCmd.Parse(os.Args[2:])
		dieIf(cmdTOTP(*totpServer, *totpID))

	case "setpass":
		_ = setCmd.Parse(os.Args[2:])
		dieIf(cmdSetPass(*setServer, *setID, *setPass))

	case "delete":
		_ = delCmd.Parse(os.Args[2:])
		dieIf(cmdDelete(*delServer, *delID))

	default:
		usage()
	}
}

// ============ Helper Functions ============

func usage() {
	fmt.Print(`vaultctl commands:

  status  [--server URL]
  setup   [--server URL]
  add     --name example.com --user alice --pass gen:20 [--uri https://example.com] [--totp gen|SECRET] [--server URL]
  note    --name memo --content "text" [--server URL]
  list    [--type login] [--q query] [--server URL]
  get     --id <ITEM_ID> [--server URL]
  totp    --id <ITEM_ID> [--server URL]
  setpass --id <ITEM_ID> --pass <new|gen:N> [--server URL]
  delete  --id <ITEM_ID> [--server URL]

Examples:
  vaultctl setup
  vaultctl add --name example.com --user ahmad --pass gen:16
  vaultctl list --type login
`)
}

func openSession(server string) (*session.Session, error) {
	client, err := session.NewClient(server)
	if err != nil {
		return nil, err
	}
	return session.New(context.Background(), client)
}

// unlocked opens a session and logs in with a prompted master password.
func unlocked(server string) (*session.Session, error) {
	sess, err := openSession(server)
	if err != nil {
		return nil, err
	}
	master, err := promptSecret("Master password: ")
	if err != nil {
		return nil, err
	}
	defer zero(master)

	if err := sess.Login(context.Background(), string(master)); err != nil {
		return nil, err
	}
	return sess, nil
}

func cmdStatus(server string) error {
	sess, err := openSession(server)
	if err != nil {
		return err
	}
	fmt.Println("server:", server)
	fmt.Println("state: ", sess.State())
	return nil
}

func cmdSetup(server string) error {
	sess, err := openSession(server)
	if err != nil {
		return err
	}
	master, err := promptSecret("New master password: ")
	if err != nil {
		return err
	}
	defer zero(master)
	confirm, err := promptSecret("Confirm master password: ")
	if err != nil {
		return err
	}
	defer zero(confirm)
	if string(master) != string(confirm) {
		return errors.New("passwords do not match")
	}

	if err := sess.Setup(context.Background(), string(master)); err != nil {
		return err
	}
	fmt.Println("Vault initialized on", server)
	return nil
}

func cmdAdd(server, name, user, pass, uri, totpSecret string) error {
	if name == "" || user == "" || pass == "" {
		return errors.New("name/user/pass required")
	}
	if totpSecret == "gen" {
		var err error
		totpSecret, err = totp.GenerateSecret()
		if err != nil {
			return err
		}
		fmt.Println("Generated TOTP secret:", totpSecret)
	}
	sess, err := unlocked(server)
	if err != nil {
		return err
	}
	defer sess.Logout()

	pass = maybeGenerate(pass)
	item, err := sess.AddItem(context.Background(), vault.Item{
		Type:       vault.TypeLogin,
		Name:       name,
		Username:   user,
		Password:   pass,
		URI:        uri,
		TOTPSecret: totpSecret,
	})
	if err != nil {
		return err
	}
	fmt.Println("Added item id:", item.ID)
	return nil
}

func cmdTOTP(server, id string) error {
	if id == "" {
		return errors.New("--id required")
	}
	sess, err := unlocked(server)
	if err != nil {
		return err
	}
	defer sess.Logout()

	code, remaining, err := sess.TOTPCode(id)
	if err != nil {
		return err
	}
	fmt.Printf("%s (valid %s)\n", code, remaining)
	return nil
}

func cmdNote(server, name, content string) error {
	if name == "" || content == "" {
		return errors.New("name/content required")
	}
	sess, err := unlocked(server)
	if err != nil {
		return err
	}
	defer sess.Logout()

	item, err := sess.AddItem(context.Background(), vault.Item{
		Type:    vault.TypeNote,
		Name:    name,
		Content: content,
	})
	if err != nil {
		return err
	}
	fmt.Println("Added note id:", item.ID)
	return nil
}

func cmdList(server, typ, query string) error {
	sess, err := unlocked(server)
	if err != nil {
		return err
	}
	defer sess.Logout()

	items, err := sess.Search(query)
	if err != nil {
		return err
	}
	out := items[:0:0]
	for _, it := range items {
		if typ == "" || string(it.Type) == typ {
			// Redact secrets in listings.
			it.Password = ""
			it.TOTPSecret = ""
			out = append(out, it)
		}
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func cmdGet(server, id string) error {
	if id == "" {
		return errors.New("--id required")
	}
	sess, err := unlocked(server)
	if err != nil {
		return err
	}
	defer sess.Logout()

	items, err := sess.Items()
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.ID == id {
			b, err := json.MarshalIndent(it, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		}
	}
	return fmt.Errorf("no item %q", id)
}

// Change the password field of an item (keeps other fields intact).
func cmdSetPass(server, id, pass string) error {
	if id == "" {
		return errors.New("--id required")
	}
	if pass == "" {
		return errors.New("--pass required (or gen:N)")
	}
	sess, err := unlocked(server)
	if err != nil {
		return err
	}
	defer sess.Logout()

	items, err := sess.Items()
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.ID == id {
			it.Password = maybeGenerate(pass)
			if err := sess.UpdateItem(context.Background(), it); err != nil {
				return err
			}
			fmt.Println("Password updated for id:", id)
			return nil
		}
	}
	return fmt.Errorf("no item %q", id)
}

func cmdDelete(server, id string) error {
	if id == "" {
		return errors.New("--id required")
	}
	sess, err := unlocked(server)
	if err != nil {
		return err
	}
	defer sess.Logout()

	if err := sess.DeleteItem(context.Background(), id); err != nil {
		return err
	}
	fmt.Println("Deleted item id:", id)
	return nil
}

// maybeGenerate expands gen:N into a random password of N characters.
func maybeGenerate(pass string) string {
	if len(pass) > 4 && pass[:4] == "gen:" {
		var n int
		_, _ = fmt.Sscanf(pass, "gen:%d", &n)
		if n <= 0 {
			n = 20
		}
		return genPassword(n)
	}
	return pass
}

func promptSecret(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	br := bufio.NewReader(os.Stdin)
	master, err := br.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(master) > 0 && master[len(master)-1] == '\n' {
		master = master[:len(master)-1]
	}
	return master, nil
}

func genPassword(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()-_=+[]{}"
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		for i := range buf {
			buf[i] = alphabet[i%len(alphabet)]
		}
	}
	for i := range buf {
		buf[i] = alphabet[int(buf[i])%len(alphabet)]
	}
	return string(buf)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func dieIf(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
