package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethpandaops/regressoor/pkg/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	providerGitHub = "github"
	providerGitLab = "gitlab"

	cicdGoVersion = "1.24"
	installPath   = "github.com/ethpandaops/regressoor/cmd/regressoor@latest"
)

var (
	cicdProvider    string
	cicdOutput      string
	cicdEnvironment string
	cicdSchedule    string
)

var generateCICDCmd = &cobra.Command{
	Use:   "generate-cicd",
	Short: "Generate a CI pipeline that runs the regression check",
	RunE:  runGenerateCICD,
}

func init() {
	rootCmd.AddCommand(generateCICDCmd)
	generateCICDCmd.Flags().StringVar(&cicdProvider, "provider", providerGitHub, "CI provider (github, gitlab)")
	generateCICDCmd.Flags().StringVarP(&cicdOutput, "output", "o", "", "Write to this file instead of stdout")
	generateCICDCmd.Flags().StringVar(&cicdEnvironment, "environment", "", "Environment passed to regressoor run")
	generateCICDCmd.Flags().StringVar(&cicdSchedule, "schedule", "0 3 * * *", "Cron schedule for periodic runs, empty to disable")
}

// pipelineOptions parameterise generated pipelines.
type pipelineOptions struct {
	ConfigPath  string
	Environment string
	Schedule    string
	ReportDir   string
}

func (o pipelineOptions) command() string {
	parts := []string{"regressoor", "run"}
	if o.Environment != "" {
		parts = append(parts, o.Environment)
	}

	parts = append(parts, "--config", o.ConfigPath)

	return strings.Join(parts, " ")
}

type githubWorkflow struct {
	Name string               `yaml:"name"`
	On   githubTriggers       `yaml:"on"`
	Jobs map[string]githubJob `yaml:"jobs"`
}

type githubTriggers struct {
	Push             map[string][]string `yaml:"push"`
	PullRequest      map[string][]string `yaml:"pull_request"`
	Schedule         []map[string]string `yaml:"schedule,omitempty"`
	WorkflowDispatch map[string]any      `yaml:"workflow_dispatch"`
}

type githubJob struct {
	RunsOn string       `yaml:"runs-on"`
	Steps  []githubStep `yaml:"steps"`
}

type githubStep struct {
	Name string            `yaml:"name,omitempty"`
	Uses string            `yaml:"uses,omitempty"`
	If   string            `yaml:"if,omitempty"`
	With map[string]string `yaml:"with,omitempty"`
	Run  string            `yaml:"run,omitempty"`
}

func githubPipeline(o pipelineOptions) any {
	wf := githubWorkflow{
		Name: "Performance regression check",
		On: githubTriggers{
			Push:             map[string][]string{"branches": {"main"}},
			PullRequest:      map[string][]string{},
			WorkflowDispatch: map[string]any{},
		},
		Jobs: map[string]githubJob{
			"regressoor": {
				RunsOn: "ubuntu-latest",
				Steps: []githubStep{
					{Uses: "actions/checkout@v4"},
					{Uses: "actions/setup-go@v5", With: map[string]string{"go-version": cicdGoVersion}},
					{Name: "Install regressoor", Run: "go install " + installPath},
					{Name: "Run regression check", Run: o.command()},
					{
						Name: "Upload report",
						If:   "always()",
						Uses: "actions/upload-artifact@v4",
						With: map[string]string{"name": "regressoor-report", "path": o.ReportDir},
					},
				},
			},
		},
	}

	if o.Schedule != "" {
		wf.On.Schedule = []map[string]string{{"cron": o.Schedule}}
	}

	return wf
}

type gitlabJob struct {
	Stage     string              `yaml:"stage"`
	Image     string              `yaml:"image"`
	Script    []string            `yaml:"script"`
	Rules     []map[string]string `yaml:"rules,omitempty"`
	Artifacts gitlabArtifacts     `yaml:"artifacts"`
}

type gitlabArtifacts struct {
	When     string   `yaml:"when"`
	Paths    []string `yaml:"paths"`
	ExpireIn string   `yaml:"expire_in"`
}

func gitlabPipeline(o pipelineOptions) any {
	rules := []map[string]string{
		{"if": `$CI_PIPELINE_SOURCE == "merge_request_event"`},
		{"if": `$CI_COMMIT_BRANCH == $CI_DEFAULT_BRANCH`},
	}

	if o.Schedule != "" {
		rules = append(rules, map[string]string{"if": `$CI_PIPELINE_SOURCE == "schedule"`})
	}

	return map[string]any{
		"stages": []string{"performance"},
		"regressoor": gitlabJob{
			Stage: "performance",
			Image: "golang:" + cicdGoVersion,
			Script: []string{
				"go install " + installPath,
				o.command(),
			},
			Rules: rules,
			Artifacts: gitlabArtifacts{
				When:     "always",
				Paths:    []string{o.ReportDir},
				ExpireIn: "30 days",
			},
		},
	}
}

// renderPipeline writes the provider's pipeline definition as YAML.
func renderPipeline(w io.Writer, provider string, o pipelineOptions) error {
	var doc any

	switch provider {
	case providerGitHub:
		doc = githubPipeline(o)
	case providerGitLab:
		doc = gitlabPipeline(o)
	default:
		return fmt.Errorf("unknown provider %q (supported: %s, %s)", provider, providerGitHub, providerGitLab)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding pipeline: %w", err)
	}

	return enc.Close()
}

func runGenerateCICD(_ *cobra.Command, _ []string) error {
	opts := pipelineOptions{
		ConfigPath:  cfgFile,
		Environment: cicdEnvironment,
		Schedule:    cicdSchedule,
		ReportDir:   "reports",
	}

	// The config is optional here; use its report dir when readable.
	if cfg, err := config.Load(cfgFile); err == nil && cfg.Report.Dir != "" {
		opts.ReportDir = cfg.Report.Dir
	}

	var buf bytes.Buffer
	if err := renderPipeline(&buf, cicdProvider, opts); err != nil {
		return err
	}

	if cicdOutput == "" {
		_, err := os.Stdout.Write(buf.Bytes())

		return err
	}

	if err := os.WriteFile(cicdOutput, buf.Bytes(), 0o644); err != nil { //nolint:gosec // pipeline files are public
		return fmt.Errorf("writing %s: %w", cicdOutput, err)
	}

	log.WithField("path", cicdOutput).Info("Pipeline written")

	return nil
}
