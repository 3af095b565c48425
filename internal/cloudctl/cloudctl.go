// Package cloudctl implements the cloud-control side channel from
// spec §6: a transient instance-id file and an append-only log of
// already-terminated node names that makes node termination idempotent
// across a restart. It never calls a cloud provider API directly
// (spec Non-goals); it shells out to a configurable command template
// the way the teacher's config.DiscoverPrometheusEndpoint shells out to
// `kurtosis port print`, and records what it did the way
// container.KillManager tracks a container's restart state, except
// here the record is durable across process restarts rather than held
// in memory.
package cloudctl

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lapesd/faultsolve/pkg/logging"
)

// Controller performs idempotent node termination against a working
// directory holding the side-channel files.
type Controller struct {
	// Dir is the directory instance_id.txt and terminated_instances.txt
	// live in, typically the run's working directory or SCR_PREFIX.
	Dir string
	// CommandTemplate is an exec.Command argv template for issuing the
	// termination request; "{{node}}" is replaced with the target node
	// name. A nil template makes Terminate a no-op that still performs
	// the idempotent bookkeeping, which is what the test harness uses.
	CommandTemplate []string
	Logger          *logging.Logger

	mu sync.Mutex
}

func (c *Controller) instanceIDPath() string {
	return filepath.Join(c.Dir, "instance_id.txt")
}

func (c *Controller) terminatedPath() string {
	return filepath.Join(c.Dir, "terminated_instances.txt")
}

// RecordInstanceID writes the transient instance-id file, overwriting
// any previous content.
func (c *Controller) RecordInstanceID(id string) error {
	return os.WriteFile(c.instanceIDPath(), []byte(id+"\n"), 0o644)
}

// InstanceID reads back the transient instance-id file, if present.
func (c *Controller) InstanceID() (string, bool, error) {
	data, err := os.ReadFile(c.instanceIDPath())
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read instance id: %w", err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

// ClearInstanceID removes the transient instance-id file, as spec §6
// requires after use.
func (c *Controller) ClearInstanceID() error {
	err := os.Remove(c.instanceIDPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear instance id: %w", err)
	}
	return nil
}

// alreadyTerminated reports whether node already appears in the
// append-only terminated-instances log.
func (c *Controller) alreadyTerminated(node string) (bool, error) {
	f, err := os.Open(c.terminatedPath())
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read terminated instances log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == node {
			return true, nil
		}
	}
	return false, scanner.Err()
}

func (c *Controller) appendTerminated(node string) error {
	f, err := os.OpenFile(c.terminatedPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("append terminated instances log: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, node)
	return err
}

// Terminate requests termination of node, exactly once across however
// many times it is called (including across process restarts that
// re-read the same Dir): if node already appears in
// terminated_instances.txt, Terminate observes the persisted record
// and returns nil without issuing a second request, matching spec
// §7(f)'s scenario.
func (c *Controller) Terminate(node string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	done, err := c.alreadyTerminated(node)
	if err != nil {
		return err
	}
	if done {
		if c.Logger != nil {
			c.Logger.Debug("node already terminated, skipping", "node", node)
		}
		return nil
	}

	if len(c.CommandTemplate) > 0 {
		args := make([]string, len(c.CommandTemplate))
		for i, a := range c.CommandTemplate {
			args[i] = strings.ReplaceAll(a, "{{node}}", node)
		}
		cmd := exec.Command(args[0], args[1:]...)
		if output, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("terminate node %s: %w (output: %s)", node, err, strings.TrimSpace(string(output)))
		}
	}

	if c.Logger != nil {
		c.Logger.Info("node terminated", "node", node)
	}
	return c.appendTerminated(node)
}

// Reset removes both side-channel files, as spec §6 requires at the
// end of a run.
func (c *Controller) Reset() error {
	if err := c.ClearInstanceID(); err != nil {
		return err
	}
	err := os.Remove(c.terminatedPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear terminated instances log: %w", err)
	}
	return nil
}
