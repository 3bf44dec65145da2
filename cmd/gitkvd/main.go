// Command gitkvd serves a git-backed, version-controlled key/value
// store over HTTP and SSH.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/forgebase/gitkv"
	"github.com/forgebase/gitkv/internal/config"
	"github.com/forgebase/gitkv/internal/httpapi"
	"github.com/forgebase/gitkv/internal/lifecycle"
	"github.com/forgebase/gitkv/internal/sshapi"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "gitkvd",
		Short: "A git-backed, version-controlled key/value store daemon",
	}
	root.AddCommand(serveCommand())
	root.AddCommand(initCommand())
	root.AddCommand(cloneCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the backing repository over HTTP and SSH",
		RunE:  runServe,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "gitkvd.toml", "path to the TOML config file")
	return cmd
}

func initCommand() *cobra.Command {
	var (
		path   string
		branch string
		bare   bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a fresh backing repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			return lifecycle.EnsureRepository(lifecycle.Options{
				Path:   path,
				Branch: branch,
				Init:   true,
				Bare:   bare,
			})
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "repository filesystem path")
	cmd.Flags().StringVar(&branch, "branch", "master", "primary branch name")
	cmd.Flags().BoolVar(&bare, "bare", true, "create the repository as bare")
	cmd.MarkFlagRequired("path")
	return cmd
}

func cloneCommand() *cobra.Command {
	var (
		path   string
		branch string
		url    string
		bare   bool
	)
	cmd := &cobra.Command{
		Use:   "clone",
		Short: "Clone the backing repository from an ssh:// url",
		RunE: func(cmd *cobra.Command, args []string) error {
			return lifecycle.EnsureRepository(lifecycle.Options{
				Path:     path,
				Branch:   branch,
				CloneURL: url,
				Bare:     bare,
			})
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "repository filesystem path")
	cmd.Flags().StringVar(&branch, "branch", "master", "primary branch name")
	cmd.Flags().StringVar(&url, "url", "", "ssh:// url to clone from")
	cmd.Flags().BoolVar(&bare, "bare", true, "create the repository as bare")
	cmd.MarkFlagRequired("path")
	cmd.MarkFlagRequired("url")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("gitkvd: invalid log level %q: %w", cfg.Log.Level, err)
	}
	log.SetLevel(level)
	if cfg.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	if err := lifecycle.EnsureRepository(lifecycle.Options{
		Path:   cfg.Repository.Path,
		Branch: cfg.Repository.PrimaryBranch,
		Init:   true,
		Bare:   cfg.Repository.Bare,
	}); err != nil {
		return err
	}

	store, err := gitkv.Open(gitkv.Config{
		RepoPath:      cfg.Repository.Path,
		PrimaryBranch: cfg.Repository.PrimaryBranch,
		DefaultSignature: gitkv.Signature{
			Name:  cfg.Signature.Name,
			Email: cfg.Signature.Email,
		},
	})
	if err != nil {
		return err
	}

	httpSrv := httpapi.New(store, log)
	var hostKey gossh.Signer
	if cfg.SSH.HostKeyPath != "" {
		pemBytes, err := os.ReadFile(cfg.SSH.HostKeyPath)
		if err != nil {
			return fmt.Errorf("gitkvd: read ssh host key: %w", err)
		}
		hostKey, err = gossh.ParsePrivateKey(pemBytes)
		if err != nil {
			return fmt.Errorf("gitkvd: parse ssh host key %s: %w", cfg.SSH.HostKeyPath, err)
		}
	}
	sshSrv := sshapi.New(store, log, hostKey)

	var g errgroup.Group
	g.Go(func() error {
		return httpSrv.ListenAndServe(cfg.HTTP.Listen, cfg.HTTP.ReadTimeout.Duration, cfg.HTTP.WriteTimeout.Duration)
	})
	g.Go(func() error {
		return sshSrv.ListenAndServe(cfg.SSH.Listen)
	})
	return g.Wait()
}
