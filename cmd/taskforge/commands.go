package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgehq/taskforge/internal/recruit"
	"github.com/forgehq/taskforge/internal/runindex"
	"github.com/forgehq/taskforge/internal/runstore"
	"github.com/forgehq/taskforge/internal/taskforce"
	"github.com/forgehq/taskforge/pkg/models"
)

// buildRecruiter assembles a recruit.Recruiter from the builtin registry.
// The orchestrator LLM tier is left nil, so recruitment from the CLI
// always uses keyword routing; --specialist bypasses recruitment
// altogether. Nothing in recruit.Recruiter requires the tier to be
// non-nil.
func buildRecruiter() (*recruit.Recruiter, error) {
	specialists, keywords, order, err := specialistsForRecruiter()
	if err != nil {
		return nil, err
	}
	return &recruit.Recruiter{Specialists: specialists, Keywords: keywords, CapOrder: order}, nil
}

func buildPlanCmd() *cobra.Command {
	var (
		specialistID string
		network      bool
	)
	cmd := &cobra.Command{
		Use:   "plan <prompt>",
		Short: "Recruit specialists for a prompt without running them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := buildRecruiter()
			if err != nil {
				return err
			}
			plan, err := r.Recruit(cmd.Context(), models.Task{
				Prompt:         args[0],
				SpecialistID:   specialistID,
				NetworkAllowed: network,
			})
			if err != nil {
				return fmt.Errorf("recruit: %w", err)
			}
			return printJSON(cmd, plan)
		},
	}
	cmd.Flags().StringVar(&specialistID, "specialist", "", "Bypass recruitment and force this specialist id")
	cmd.Flags().BoolVar(&network, "network", false, "Set network_allowed on the task (recruitment does not consult it)")
	return cmd
}

func buildRunCmd() *cobra.Command {
	f := &commonFlags{}
	var specialistID string

	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Recruit specialists, run the task force, and persist the run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			prompt := args[0]

			r, err := buildRecruiter()
			if err != nil {
				return err
			}
			task := models.Task{Prompt: prompt, SpecialistID: specialistID, ModelKey: f.model, NetworkAllowed: f.networkAllow}
			plan, err := r.Recruit(ctx, task)
			if err != nil {
				return fmt.Errorf("recruit: %w", err)
			}

			runID := runstore.NewRunID()
			repo, err := runstore.Create(f.workspaceRoot, runID)
			if err != nil {
				return fmt.Errorf("create run: %w", err)
			}
			defer repo.Close()

			_ = repo.AppendEvent(models.EventRecruitment, "", map[string]interface{}{"prompt": prompt})
			_ = repo.AppendEvent(models.EventOrchestrationPlan, "", map[string]interface{}{
				"assignments":    plan.SpecialistIDs(),
				"mode":           plan.Mode,
				"routing_method": plan.RoutingMethod,
			})

			chat, err := buildChatClient(ctx, f)
			if err != nil {
				return err
			}

			builder, browserPool, err := packBuilderFor(repo.WorkspacePath(), f)
			if err != nil {
				return err
			}
			if browserPool != nil {
				defer browserPool.Close()
			}

			coordinator := &taskforce.Coordinator{
				Chat:        chat,
				Model:       f.model,
				Events:      repo,
				BuildPack:   builder,
				MaxSteps:    f.maxSteps,
				MaxParallel: f.maxParallel,
				RunDir:      repo.RunDir(),
			}

			cp := &models.RunCheckpoint{
				RunID:             runID,
				RunDir:            repo.RunDir(),
				WorkspacePath:     repo.WorkspacePath(),
				TaskPrompt:        prompt,
				SpecialistIDs:     plan.SpecialistIDs(),
				TaskForceMode:     plan.Mode,
				ModelKey:          f.model,
				RoutingMethod:     plan.RoutingMethod,
				OrchestrationPlan: &plan,
			}

			payload, err := coordinator.Run(ctx, plan, prompt, cp)
			if err != nil {
				return fmt.Errorf("run %s: %w", runID, err)
			}

			summary, _ := payload["summary"].(string)
			entry := models.RunIndexEntry{
				RunID:         runID,
				SpecialistIDs: plan.SpecialistIDs(),
				PromptPrefix:  prompt,
				Summary:       summary,
				WorkspacePath: repo.WorkspacePath(),
				RunDir:        repo.RunDir(),
				RoutingMethod: plan.RoutingMethod,
				ModelName:     f.model,
			}
			_ = runindex.New(f.workspaceRoot).Append(entry)

			return printJSON(cmd, models.RunResult{
				RunID:                runID,
				RunDir:               repo.RunDir(),
				WorkspacePath:        repo.WorkspacePath(),
				SpecialistID:         plan.SpecialistIDs()[0],
				SpecialistIDs:        plan.SpecialistIDs(),
				ModelName:            f.model,
				Payload:              payload,
				RequiredCapabilities: plan.RequiredCapabilities,
			})
		},
	}

	addCommonFlags(cmd, f)
	cmd.Flags().StringVar(&specialistID, "specialist", "", "Bypass recruitment and force this specialist id")
	return cmd
}

func buildResumeCmd() *cobra.Command {
	f := &commonFlags{}
	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a run whose checkpoint is still pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runID := args[0]

			chat, err := buildChatClient(ctx, f)
			if err != nil {
				return err
			}

			// The workspace path is only known once the run directory is
			// reopened; packBuilderFor needs it, so resume builds its pack
			// builder against {workspaceRoot}/runs/{runID}/workspace directly
			// rather than threading it through runstore.Open twice.
			workspacePath := fmt.Sprintf("%s/runs/%s/workspace", f.workspaceRoot, runID)
			builder, browserPool, err := packBuilderFor(workspacePath, f)
			if err != nil {
				return err
			}
			if browserPool != nil {
				defer browserPool.Close()
			}

			coordinator := &taskforce.Coordinator{
				Chat:        chat,
				Model:       f.model,
				BuildPack:   builder,
				MaxSteps:    f.maxSteps,
				MaxParallel: f.maxParallel,
			}

			payload, err := coordinator.ResumeRun(ctx, f.workspaceRoot, runID)
			if err != nil {
				return fmt.Errorf("resume %s: %w", runID, err)
			}
			return printJSON(cmd, payload)
		},
	}
	addCommonFlags(cmd, f)
	return cmd
}

func buildLogsCmd() *cobra.Command {
	var workspaceRoot string
	cmd := &cobra.Command{
		Use:   "logs <run-id>",
		Short: "Print a run's event log as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runDir := fmt.Sprintf("%s/runs/%s", workspaceRoot, args[0])
			events, err := runstore.ReadEvents(runDir)
			if err != nil {
				return fmt.Errorf("read events: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range events {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&workspaceRoot, "workspace-root", ".taskforge", "Directory holding runs/")
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
