package wireguard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"wgmgr/internal/models"
)

// Runner запускает внешнюю команду. Аргументы передаются списком, без shell.
type Runner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) (stdout []byte, err error)
}

// ExitError — команда запустилась, но вернула ненулевой код.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, e.Stderr)
}

// CommandRunner — Runner поверх os/exec.
type CommandRunner struct{}

func (CommandRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	var ee *exec.ExitError
	if errors.As(err, &ee) && ctx.Err() == nil {
		return stdout.Bytes(), &ExitError{Code: ee.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}
	}
	return stdout.Bytes(), err
}

// ExecOptions — пути к утилитам и таймаут одного вызова.
type ExecOptions struct {
	Wg        string // "wg"
	Systemctl string // "systemctl"
	Timeout   time.Duration
}

// Exec — драйвер через утилиту wg и юниты wg-quick@<name>.
type Exec struct {
	run  Runner
	opts ExecOptions
	log  logrus.FieldLogger
}

func NewExec(run Runner, opts ExecOptions, log logrus.FieldLogger) *Exec {
	if run == nil {
		run = CommandRunner{}
	}
	if opts.Wg == "" {
		opts.Wg = "wg"
	}
	if opts.Systemctl == "" {
		opts.Systemctl = "systemctl"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Exec{run: run, opts: opts, log: log}
}

func (e *Exec) GeneratePrivateKey(ctx context.Context) (string, error) {
	return e.call(ctx, nil, e.opts.Wg, "genkey")
}

func (e *Exec) DerivePublicKey(ctx context.Context, private string) (string, error) {
	return e.call(ctx, []byte(private+"\n"), e.opts.Wg, "pubkey")
}

func (e *Exec) ListenPort(ctx context.Context, iface string) (int, error) {
	out, err := e.call(ctx, nil, e.opts.Wg, "show", iface, "listen-port")
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(out)
	if err != nil {
		return 0, models.Errorf(models.ErrDriverError, "wg show %s listen-port: unexpected output %q", iface, out)
	}
	return port, nil
}

func (e *Exec) PublicKey(ctx context.Context, iface string) (string, error) {
	return e.call(ctx, nil, e.opts.Wg, "show", iface, "public-key")
}

func (e *Exec) AllowedIPs(ctx context.Context, iface string) ([]PeerAllowedIPs, error) {
	out, err := e.call(ctx, nil, e.opts.Wg, "show", iface, "allowed-ips")
	if err != nil {
		return nil, err
	}
	peers, err := ParseAllowedIPs(out)
	if err != nil {
		return nil, models.Wrap(models.ErrDriverError, fmt.Errorf("wg show %s allowed-ips: %w", iface, err))
	}
	return peers, nil
}

func (e *Exec) ApplyPeer(ctx context.Context, iface string, p PeerUpdate) error {
	args := []string{"set", iface, "peer", p.PublicKey}
	var stdin []byte
	if p.Remove {
		args = append(args, "remove")
	} else {
		if p.Keepalive != nil {
			args = append(args, "persistent-keepalive", strconv.Itoa(*p.Keepalive))
		}
		if p.AllowedIPs != nil {
			args = append(args, "allowed-ips", joinPrefixes(p.AllowedIPs, ","))
		}
		if p.Endpoint != "" {
			args = append(args, "endpoint", p.Endpoint)
		}
		switch {
		case p.PresharedKey == nil:
		case *p.PresharedKey == "":
			// пустой файл снимает ключ
			args = append(args, "preshared-key", "/dev/null")
		default:
			// ключ не должен попасть в argv
			args = append(args, "preshared-key", "/dev/stdin")
			stdin = []byte(*p.PresharedKey + "\n")
		}
	}
	_, err := e.call(ctx, stdin, e.opts.Wg, args...)
	return err
}

func (e *Exec) Activate(ctx context.Context, name string) error {
	_, err := e.call(ctx, nil, e.opts.Systemctl, "enable", "--now", unit(name))
	return err
}

func (e *Exec) Deactivate(ctx context.Context, name string) error {
	_, err := e.call(ctx, nil, e.opts.Systemctl, "disable", "--now", unit(name))
	return err
}

func unit(name string) string { return "wg-quick@" + name }

// call выполняет команду с таймаутом и переводит сбой в класс ошибки.
func (e *Exec) call(ctx context.Context, stdin []byte, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	start := time.Now()
	out, err := e.run.Run(ctx, stdin, name, args...)
	e.log.Debugf("exec %s %s dur=%s err=%v", name, strings.Join(args, " "), time.Since(start), err)
	if err == nil {
		return strings.TrimSpace(string(out)), nil
	}

	cmdline := name + " " + strings.Join(args, " ")
	var ee *ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "", models.Errorf(models.ErrToolUnavailable, "%s: timed out after %s", cmdline, e.opts.Timeout)
	case errors.As(err, &ee):
		if notActive(ee.Stderr) {
			return "", models.Wrap(models.ErrInterfaceNotActive, fmt.Errorf("%s: %w", cmdline, ee))
		}
		return "", models.Wrap(models.ErrDriverError, fmt.Errorf("%s: %w", cmdline, ee))
	default:
		// бинарника нет, нет прав на запуск и т.п.
		return "", models.Wrap(models.ErrToolUnavailable, fmt.Errorf("%s: %w", cmdline, err))
	}
}

// notActive распознаёт ответ wg для несуществующего интерфейса.
func notActive(stderr string) bool {
	return strings.Contains(stderr, "No such device") ||
		strings.Contains(stderr, "Unable to access interface")
}

func joinPrefixes(ps []netip.Prefix, sep string) string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.String())
	}
	return strings.Join(out, sep)
}
