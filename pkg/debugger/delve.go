package debugger

import (
	"fmt"
	"net"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"

	"github.com/callscope/callscope/pkg/instrument"
	"github.com/callscope/callscope/pkg/logging"
	"github.com/callscope/callscope/pkg/snapshot"
)

// DelveBackend drives the target through a headless Delve server it
// manages, implementing the engine's Backend interface over the RPC
// client.
type DelveBackend struct {
	client    *rpc2.RPCClient
	target    string // Target binary path
	dlvCmd    *exec.Cmd
	dlvListen string
	log       *logging.Logger
	loadCfg   api.LoadConfig
}

// findFreePort finds an available TCP port on localhost
func findFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// NewDelveBackend launches a Delve headless server for the target and
// connects via RPC. The target is created stopped; stdinPath, when
// non-empty, is attached to the target's stdin.
func NewDelveBackend(targetPath, stdinPath string, log *logging.Logger) (*DelveBackend, error) {
	if log == nil {
		log = logging.Discard()
	}

	absPath, err := filepath.Abs(targetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for target %s: %v", targetPath, err)
	}

	port, err := findFreePort()
	if err != nil {
		return nil, fmt.Errorf("failed to find free port for delve: %v", err)
	}
	dlvListenAddr := "localhost:" + strconv.Itoa(port)

	cmdArgs := []string{
		"exec", absPath,
		"--headless",
		"--listen=" + dlvListenAddr,
		"--api-version=2",
		"--accept-multiclient",
	}
	if stdinPath != "" {
		cmdArgs = append(cmdArgs, "--redirect", "stdin:"+stdinPath)
	}

	dlvCmd := exec.Command("dlv", cmdArgs...)
	setupProcAttr(dlvCmd)

	if err := dlvCmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start delve process: %v", err)
	}
	log.Debugf("Started Delve headless server for %s on %s (PID: %d)",
		absPath, dlvListenAddr, dlvCmd.Process.Pid)

	// Give the server a moment to initialize before connecting
	time.Sleep(1000 * time.Millisecond)

	client := rpc2.NewClient(dlvListenAddr)
	if _, err := client.GetState(); err != nil {
		_ = dlvCmd.Process.Kill()
		_, _ = dlvCmd.Process.Wait()
		return nil, fmt.Errorf("failed to connect RPC client to delve server at %s: %v", dlvListenAddr, err)
	}
	log.Debugf("Connected RPC client to Delve headless server at %s", dlvListenAddr)

	return &DelveBackend{
		client:    client,
		target:    absPath,
		dlvCmd:    dlvCmd,
		dlvListen: dlvListenAddr,
		log:       log,
		loadCfg: api.LoadConfig{
			FollowPointers:     true,
			MaxVariableRecurse: 1,
			MaxStringLen:       512,
			MaxArrayValues:     64,
			MaxStructFields:    -1,
		},
	}, nil
}

func (b *DelveBackend) scope() api.EvalScope {
	return api.EvalScope{GoroutineID: -1, Frame: 0}
}

// FunctionEntryAddress resolves a symbol to its first instruction
func (b *DelveBackend) FunctionEntryAddress(name string) (uint64, error) {
	locs, _, err := b.client.FindLocation(b.scope(), name, true, nil)
	if err != nil {
		return 0, fmt.Errorf("could not locate %s: %v", name, err)
	}
	if len(locs) == 0 {
		return 0, fmt.Errorf("no location for %s", name)
	}
	return locs[0].PC, nil
}

// InstallBreakpoint installs an address breakpoint; an already
// existing breakpoint at the address is not an error
func (b *DelveBackend) InstallBreakpoint(addr uint64) error {
	_, err := b.client.CreateBreakpoint(&api.Breakpoint{Addr: addr})
	if err != nil && strings.Contains(err.Error(), "Breakpoint exists") {
		return nil
	}
	return err
}

// InstalledBreakpoints returns the addresses currently armed
func (b *DelveBackend) InstalledBreakpoints() map[uint64]bool {
	installed := make(map[uint64]bool)
	bps, err := b.client.ListBreakpoints(false)
	if err != nil {
		b.log.Errorf("Failed to list breakpoints: %v", err)
		return installed
	}
	for _, bp := range bps {
		installed[bp.Addr] = true
	}
	return installed
}

// Disassemble renders a function's instructions as text lines in the
// shape the scanner parses: address, offset, mnemonic and operands,
// resolved target symbol last.
func (b *DelveBackend) Disassemble(functionName string) (string, error) {
	entry, err := b.FunctionEntryAddress(functionName)
	if err != nil {
		return "", err
	}
	instructions, err := b.client.DisassemblePC(b.scope(), entry, api.IntelFlavour)
	if err != nil {
		return "", fmt.Errorf("could not disassemble %s: %v", functionName, err)
	}

	var sb strings.Builder
	for _, ins := range instructions {
		fmt.Fprintf(&sb, "0x%016x <+%d>:\t%s", ins.Loc.PC, ins.Loc.PC-entry, ins.Text)
		if ins.DestLoc != nil && ins.DestLoc.Function != nil {
			fmt.Fprintf(&sb, " <%s>", ins.DestLoc.Function.Name())
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// Launch verifies the stopped target is ready. The dlv exec child
// already created the process stopped at its entry.
func (b *DelveBackend) Launch() error {
	state, err := b.client.GetState()
	if err != nil {
		return fmt.Errorf("target not ready: %v", err)
	}
	if state.Exited {
		return fmt.Errorf("target exited before launch completed")
	}
	return nil
}

// Run drives the stop/resume loop. Each resume the handler's drained
// queue yields becomes the next blocking operation, so resumes are
// never executed inside the stop notification itself.
func (b *DelveBackend) Run(onStop func(addr uint64, f instrument.Frame) instrument.Resume, onExit func(code int)) error {
	resume := instrument.ResumeContinue
	for {
		var state *api.DebuggerState
		var err error
		if resume == instrument.ResumeStep {
			state, err = b.client.StepInstruction(false)
		} else {
			state = <-b.client.Continue()
		}
		if state != nil && state.Exited {
			onExit(state.ExitStatus)
			return nil
		}
		if err != nil {
			return fmt.Errorf("resume (%s) failed: %v", resume, err)
		}
		if state == nil {
			return fmt.Errorf("debugger returned no state")
		}
		if state.Err != nil {
			if exited, code := exitStatus(state.Err); exited {
				onExit(code)
				return nil
			}
			return fmt.Errorf("resume (%s) failed: %v", resume, state.Err)
		}
		if state.CurrentThread == nil {
			return fmt.Errorf("stopped with no current thread")
		}
		resume = onStop(state.CurrentThread.PC, &delveFrame{thread: state.CurrentThread})
	}
}

var exitedPattern = regexp.MustCompile(`has exited with status (-?\d+)`)

// exitStatus recognizes the process-exit error delve reports from a
// continue that ran to completion
func exitStatus(err error) (bool, int) {
	m := exitedPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return false, 0
	}
	code, _ := strconv.Atoi(m[1])
	return true, code
}

// ReadLocals returns the stopped frame's local variables
func (b *DelveBackend) ReadLocals(_ instrument.Frame) map[string]snapshot.Value {
	vars, err := b.client.ListLocalVariables(b.scope(), b.loadCfg)
	if err != nil {
		b.log.Errorf("Failed to list local variables: %v", err)
		return map[string]snapshot.Value{}
	}
	return b.wrapVariables(vars)
}

// ReadGlobals returns the package-level variables of the stopped
// frame's package
func (b *DelveBackend) ReadGlobals(f instrument.Frame) map[string]snapshot.Value {
	filter := ""
	if pkg := packageOf(f.Function()); pkg != "" {
		filter = "^" + regexp.QuoteMeta(pkg) + `\.`
	}
	vars, err := b.client.ListPackageVariables(filter, b.loadCfg)
	if err != nil {
		b.log.Errorf("Failed to list package variables: %v", err)
		return map[string]snapshot.Value{}
	}
	return b.wrapVariables(vars)
}

// ReadReceiver returns the method receiver when the stopped frame
// executes a method, keyed by its declared name
func (b *DelveBackend) ReadReceiver(f instrument.Frame) map[string]snapshot.Value {
	if !isMethod(f.Function()) {
		return map[string]snapshot.Value{}
	}
	args, err := b.client.ListFunctionArgs(b.scope(), b.loadCfg)
	if err != nil || len(args) == 0 {
		return map[string]snapshot.Value{}
	}
	recv := args[0]
	return map[string]snapshot.Value{recv.Name: newDelveValue(b, recv.Name, recv)}
}

// ReadArguments returns the stopped frame's function arguments
func (b *DelveBackend) ReadArguments(_ instrument.Frame) map[string]snapshot.Value {
	args, err := b.client.ListFunctionArgs(b.scope(), b.loadCfg)
	if err != nil {
		b.log.Errorf("Failed to list function arguments: %v", err)
		return map[string]snapshot.Value{}
	}
	return b.wrapVariables(args)
}

func (b *DelveBackend) wrapVariables(vars []api.Variable) map[string]snapshot.Value {
	values := make(map[string]snapshot.Value, len(vars))
	for i := range vars {
		v := vars[i]
		values[v.Name] = newDelveValue(b, v.Name, v)
	}
	return values
}

// Close terminates the connection and the Delve process
func (b *DelveBackend) Close() error {
	var closeErr error
	if b.client != nil {
		if err := b.client.Disconnect(false); err != nil {
			b.log.Errorf("Error disconnecting Delve client: %v", err)
			closeErr = fmt.Errorf("failed to disconnect delve client: %v", err)
		}
		b.client = nil
	}
	if b.dlvCmd != nil && b.dlvCmd.Process != nil {
		if err := b.dlvCmd.Process.Kill(); err != nil {
			if err.Error() != "os: process already finished" {
				closeErr = fmt.Errorf("failed to kill delve process: %v", err)
			}
		}
		_, _ = b.dlvCmd.Process.Wait()
		b.dlvCmd = nil
	}
	return closeErr
}

type delveFrame struct {
	thread *api.Thread
}

func (f *delveFrame) Function() string {
	if f.thread.Function == nil {
		return ""
	}
	return f.thread.Function.Name()
}

func (f *delveFrame) Line() int {
	return f.thread.Line
}

// packageOf extracts the package qualifier from a function name as the
// debugger reports it (for example "main" from "main.helper")
func packageOf(function string) string {
	base := function[strings.LastIndex(function, "/")+1:]
	if i := strings.Index(base, "."); i > 0 {
		return function[:len(function)-len(base)+i]
	}
	return ""
}

// isMethod reports whether a function name carries a receiver
func isMethod(function string) bool {
	base := function[strings.LastIndex(function, "/")+1:]
	return strings.Contains(base, "(") || strings.Count(base, ".") >= 2
}
