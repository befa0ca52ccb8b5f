package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/B-Whitt/skillwatch/pkg/config"
	"github.com/B-Whitt/skillwatch/pkg/execution"
	"github.com/B-Whitt/skillwatch/pkg/lockfile"
)

// newSimulateCommand plays the external skill runner: it writes a synthetic
// execution into the shared file and appends step events on a timer. Useful
// for demos and for exercising a live `skillwatch watch` end to end.
func newSimulateCommand() *cobra.Command {
	var (
		skill        string
		steps        int
		stepDuration time.Duration
		failAt       int
		source       string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Write a synthetic execution into the state file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			return simulate(cfg, skill, steps, stepDuration, failAt, execution.Source(source))
		},
	}
	cmd.Flags().StringVar(&skill, "skill", "deploy-dashboard", "skill name to report")
	cmd.Flags().IntVar(&steps, "steps", 4, "number of steps in the manifest")
	cmd.Flags().DurationVar(&stepDuration, "step-duration", 2*time.Second, "simulated duration per step")
	cmd.Flags().IntVar(&failAt, "fail-at", -1, "zero-based step index to fail at (-1 for success)")
	cmd.Flags().StringVar(&source, "source", string(execution.SourceProgrammatic), "source classification")
	return cmd
}

func simulate(cfg *config.Config, skill string, steps int, stepDuration time.Duration, failAt int, source execution.Source) error {
	statePath := cfg.StatePath()
	if err := os.MkdirAll(cfg.Workspace, 0755); err != nil {
		return err
	}
	lockOpts := lockfile.Options{Timeout: cfg.LockTimeout, StaleAfter: cfg.LockStaleAfter}

	id := uuid.New().String()
	manifest := make([]execution.StepManifestEntry, steps)
	for i := range manifest {
		manifest[i] = execution.StepManifestEntry{
			Name:    fmt.Sprintf("%s_step_%d", skill, i+1),
			Tool:    "http.request",
			OnError: "continue",
		}
	}

	now := time.Now()
	if err := mutateState(statePath, lockOpts, func(sf *execution.StateFile) {
		sf.Executions[id] = &execution.Execution{
			ID:         id,
			SkillName:  skill,
			Source:     source,
			Status:     execution.StatusRunning,
			TotalSteps: steps,
			StartTime:  now,
			Events: []execution.Event{{
				Kind:      execution.EventExecutionStart,
				Timestamp: now,
				Steps:     manifest,
			}},
		}
	}); err != nil {
		return err
	}
	fmt.Printf("Simulating %s (%s), %d steps.\n", skill, id, steps)

	for i := 0; i < steps; i++ {
		idx := i
		started := time.Now()
		if err := mutateState(statePath, lockOpts, func(sf *execution.StateFile) {
			exec := sf.Executions[id]
			if exec == nil {
				return
			}
			exec.CurrentStepIndex = idx
			exec.Events = append(exec.Events, execution.Event{
				Kind:      execution.EventStepStart,
				Timestamp: started,
				StepIndex: &idx,
				StepName:  manifest[idx].Name,
			})
		}); err != nil {
			return err
		}

		time.Sleep(stepDuration)

		failed := idx == failAt
		if err := mutateState(statePath, lockOpts, func(sf *execution.StateFile) {
			exec := sf.Executions[id]
			if exec == nil {
				return
			}
			ev := execution.Event{
				Timestamp:  time.Now(),
				StepIndex:  &idx,
				DurationMs: time.Since(started).Milliseconds(),
			}
			if failed {
				ev.Kind = execution.EventStepFailed
				ev.Error = "simulated step failure"
			} else {
				ev.Kind = execution.EventStepComplete
				ev.Result = "ok"
			}
			exec.Events = append(exec.Events, ev)
		}); err != nil {
			return err
		}
		if failed {
			break
		}
	}

	end := time.Now()
	status := execution.StatusSuccess
	message := ""
	if failAt >= 0 && failAt < steps {
		status = execution.StatusFailed
		message = fmt.Sprintf("step %d failed", failAt)
	}
	if err := mutateState(statePath, lockOpts, func(sf *execution.StateFile) {
		exec := sf.Executions[id]
		if exec == nil {
			return
		}
		exec.Status = status
		exec.EndTime = &end
		exec.Events = append(exec.Events, execution.Event{
			Kind:      execution.EventExecutionComplete,
			Timestamp: end,
			Error:     message,
		})
	}); err != nil {
		return err
	}
	fmt.Printf("Finished with status %s.\n", status)
	return nil
}

// mutateState applies fn to the decoded state file under the lock, writing
// the result back atomically. A missing file starts from empty state.
func mutateState(path string, opts lockfile.Options, fn func(*execution.StateFile)) error {
	ok, err := lockfile.WithLock(path, opts, func() error {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		sf, err := execution.DecodeStateFile(data)
		if err != nil {
			return err
		}
		fn(sf)
		out, err := execution.EncodeStateFile(sf, time.Now())
		if err != nil {
			return err
		}
		return lockfile.WriteAtomic(path, out)
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("state file %s is locked", path)
	}
	return nil
}
