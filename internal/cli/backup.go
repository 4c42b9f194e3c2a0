package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nace/blkpull/internal/backup"
	"github.com/nace/blkpull/internal/config"
	"github.com/nace/blkpull/internal/notify"
	"github.com/nace/blkpull/internal/remote"
	"github.com/nace/blkpull/internal/system"
	"github.com/nace/blkpull/internal/ui"
)

// BackupCommand captures a remote device into a local archive
type BackupCommand struct {
	ctx *GlobalContext
}

// flagBindings maps backup flags to config keys
var flagBindings = map[string]string{
	"host":           "source.host",
	"user":           "source.user",
	"port":           "source.port",
	"key":            "source.key",
	"known-hosts":    "source.known_hosts",
	"device":         "source.device",
	"sudo":           "source.sudo",
	"dest":           "dest.dir",
	"name":           "dest.name",
	"shrink":         "shrink.enabled",
	"pre":            "scripts.pre",
	"post":           "scripts.post",
	"mail":           "notify.recipients",
	"prepare-passes": "shrink.prepare_passes",
	"resize-passes":  "shrink.resize_passes",
}

// NewBackupCommand creates the backup command
func NewBackupCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &BackupCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "backup [host]",
		Short: "Capture a remote block device into a local archive",
		Long: `Stream a block device from a remote host over SSH, compressed on the remote side,
into the destination directory. With --shrink the capture is decompressed, its
last ext partition shrunk to the minimum size and the result packed into a zip.

The archive is named <name>_<size>GB.gz (or .zip with --shrink), where size is
the original device size in whole gigabytes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: cmd.Run,
	}

	f := cobraCmd.Flags()
	f.StringP("user", "u", "pi", "Remote user")
	f.String("host", "", "Remote host")
	f.IntP("port", "p", 22, "SSH port")
	f.StringP("key", "i", "", "Private key file")
	f.String("known-hosts", "", "known_hosts file for host key verification")
	f.StringP("device", "d", "/dev/mmcblk0", "Remote block device")
	f.Bool("sudo", true, "Read the device with sudo")
	f.StringP("dest", "o", ".", "Destination directory")
	f.StringP("name", "n", "", "Archive base name (default: host)")
	f.BoolP("shrink", "s", false, "Shrink the image before archiving (requires root)")
	f.StringSlice("pre", nil, "Remote command to run before the capture (repeatable)")
	f.StringSlice("post", nil, "Remote command to run after the capture (repeatable)")
	f.StringSlice("mail", nil, "Mail the run log to this address (repeatable)")
	f.Int("prepare-passes", 4, "Maximum filesystem check passes")
	f.Int("resize-passes", 10, "Maximum resize passes")

	return cobraCmd
}

// bindFlags lets explicitly set flags override config values
func (c *BackupCommand) bindFlags(flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(fl *pflag.Flag) {
		key, ok := flagBindings[fl.Name]
		if !ok || !fl.Changed || err != nil {
			return
		}
		err = c.ctx.Viper.BindPFlag(key, fl)
	})
	return err
}

// Run executes the backup command
func (c *BackupCommand) Run(cmd *cobra.Command, args []string) (err error) {
	if len(args) == 1 {
		if ferr := cmd.Flags().Set("host", args[0]); ferr != nil {
			return ferr
		}
	}
	if err := c.bindFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	cfg, err := config.Load(c.ctx.Viper, c.ctx.ConfigPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.File != "" {
		c.ctx.Logger.Debug("config: %s", cfg.File)
	}

	if cfg.Shrink.Enabled {
		if err := system.RequireRoot(); err != nil {
			return err
		}
		if err := c.ctx.CheckDependencies(); err != nil {
			return err
		}
	}
	if len(cfg.Notify.Recipients) > 0 && !c.ctx.Executor.CommandExists("mail") {
		c.ctx.Logger.Warning("mail not found, the run log will not be sent")
	}

	if err := os.MkdirAll(cfg.Dest.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	session := backup.NewSession(cfg)

	workDir, err := os.MkdirTemp("", "blkpull-"+session.ID[:8]+"-")
	if err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	logPath := filepath.Join(workDir, "run.log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("failed to create run log: %w", err)
	}
	c.ctx.Logger.AttachRunLog(logFile)
	defer func() {
		c.ctx.Logger.AttachRunLog(nil)
		logFile.Close()
	}()

	// Runs before the run log is detached so the failure is part of the mail.
	defer func() {
		if err != nil {
			c.ctx.Logger.Error("%v", err)
			err = reported(err)
		}
		text, rerr := os.ReadFile(logPath)
		if rerr != nil {
			c.ctx.Logger.Warning("Failed to read run log: %v", rerr)
			return
		}
		mailer := notify.NewMailer(c.ctx.Executor, cfg.Notify.Subject)
		backup.Notify(cmd.Context(), mailer, c.ctx.Logger, session, string(text))
	}()

	return c.execute(cmd.Context(), cfg, session)
}

func (c *BackupCommand) execute(ctx context.Context, cfg *config.Config, session *backup.TransferSession) error {
	c.ctx.Logger.Info("Connecting to %s...", session.Source)
	client, err := remote.Dial(ctx, session.Source, remote.Options{
		Retries:    cfg.SSH.Retries,
		RetryDelay: cfg.SSH.RetryDelay,
		Timeout:    cfg.SSH.Timeout,
		Passphrase: func() ([]byte, error) {
			return ui.PromptPassword("Passphrase for " + session.Source.KeyPath)
		},
		Warn: c.ctx.Logger.Warning,
	})
	if err != nil {
		return err
	}
	defer client.Close()
	c.ctx.Logger.Info("Connected to %s", client.Target())

	orch := &backup.Orchestrator{
		Remote:    client,
		Fs:        c.ctx.Fs,
		FreeSpace: system.GetAvailableSpace,
		Shrinker:  c.ctx.NewPlanner(policyFrom(cfg.Shrink.PreparePasses, cfg.Shrink.ResizePasses)),
		Loops:     c.ctx.LoopManager,
		Log:       c.ctx.Logger,
	}

	out, err := orch.Run(ctx, session)
	c.ctx.logShrinkReport(out.Shrink)
	if err != nil {
		if out.RawImage != "" {
			c.ctx.Logger.Warning("Unshrunk image left at %s", out.RawImage)
		}
		return err
	}

	c.ctx.Logger.Success("Backup of %s complete: %s", session.Source.Host, out.Archive)
	return nil
}
