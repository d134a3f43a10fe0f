// Package main は eleme API のコマンドラインクライアントです。
// ログイン状態は ~/.eleme/session.db に保存されます。
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/eleme-backend/internal/client"
	"github.com/yourusername/eleme-backend/internal/session"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}

// app はサブコマンド間で共有する状態です。PersistentPreRunE で用意されます。
type app struct {
	apiURL      string
	sessionPath string
	memory      bool
	timeout     time.Duration

	in      *bufio.Reader
	out     io.Writer
	storage session.Storage
	session *session.Store
	client  *client.Client
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{in: bufio.NewReader(in), out: out}

	root := &cobra.Command{
		Use:           "eleme",
		Short:         "eleme storefront client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close()
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&a.apiURL, "api", envOr("ELEME_API", "http://localhost:8080"), "API base URL")
	flags.StringVar(&a.sessionPath, "session", "", "session file (default ~/.eleme/session.db)")
	flags.BoolVar(&a.memory, "memory", false, "keep the session in memory only")
	flags.DurationVar(&a.timeout, "timeout", 15*time.Second, "request timeout")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newVerifyCodeCmd(a),
		newRegisterCmd(a),
		newBusinessesCmd(a),
		newShopCmd(a),
		newCartCmd(a),
		newCheckoutCmd(a),
		newOrdersCmd(a),
		newPayCmd(a),
	)
	return root
}

func (a *app) open() error {
	if a.session != nil {
		return nil
	}
	if a.memory {
		a.storage = session.NewMemoryStorage()
	} else {
		path := a.sessionPath
		if path == "" {
			p, err := session.DefaultPath()
			if err != nil {
				return err
			}
			path = p
		}
		st, err := session.OpenBolt(path)
		if err != nil {
			return err
		}
		a.storage = st
	}

	sess, err := session.Open(a.storage)
	if err != nil {
		_ = a.storage.Close()
		return err
	}
	c, err := client.New(client.Config{BaseURL: a.apiURL, Timeout: a.timeout}, sess)
	if err != nil {
		_ = a.storage.Close()
		return err
	}
	a.session, a.client = sess, c
	return nil
}

func (a *app) close() error {
	if a.storage == nil {
		return nil
	}
	err := a.storage.Close()
	a.storage, a.session, a.client = nil, nil, nil
	return err
}

// prompt は1行読み取ります。
func (a *app) prompt(label string) (string, error) {
	fmt.Fprint(a.out, label)
	line, err := a.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a *app) requireLogin() error {
	if !a.session.IsLoggedIn() {
		return errors.New("尚未登录，请先执行 eleme login")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
