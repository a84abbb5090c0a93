// Command generate_profile writes a synthetic election, either as a JSON
// dataset or as a fairrank job file.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-fairrank/internal/application"
	"github.com/ahrav/go-fairrank/internal/testutils"
)

func main() {
	defaults := testutils.DefaultGeneratorConfig()
	var (
		candidates = flag.Int("candidates", defaults.Candidates, "Pool size")
		groups     = flag.Int("groups", defaults.Groups, "Number of groups")
		voters     = flag.Int("voters", defaults.Voters, "Number of ballots")
		length     = flag.Int("ballot-length", 0, "Candidates ranked per ballot (0 = all)")
		bias       = flag.Float64("bias", defaults.MajorityBias, "Utility bonus for G1 candidates")
		omit       = flag.Float64("omit-rate", 0, "Probability that a ballot ranks only G1")
		seed       = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
		seats      = flag.Int("seats", 0, "Consensus length for job output (0 = one per group)")
		mode       = flag.String("mode", "EQUAL", "Fairness mode for job output")
		outputPath = flag.String("output", "testdata/profiles/sample_profile.yaml", "Output file; .json writes a dataset, anything else a job")
	)
	flag.Parse()

	cfg := defaults
	cfg.Candidates = *candidates
	cfg.Groups = *groups
	cfg.Voters = *voters
	cfg.BallotLength = *length
	cfg.MajorityBias = *bias
	cfg.OmitRate = *omit

	dataset, err := testutils.GenerateProfileDataset(cfg, *seed)
	if err != nil {
		log.Fatalf("Failed to generate profile: %v", err)
	}

	if strings.EqualFold(filepath.Ext(*outputPath), ".json") {
		if err := testutils.SaveProfileDataset(dataset, *outputPath); err != nil {
			log.Fatalf("Failed to save dataset: %v", err)
		}
	} else {
		k := *seats
		if k == 0 {
			k = cfg.Groups
		}
		if err := writeJob(dataset, *mode, k, *outputPath); err != nil {
			log.Fatalf("Failed to save job: %v", err)
		}
	}

	stats := testutils.ComputeDatasetStatistics(dataset)
	fmt.Printf("Generated profile:\n")
	fmt.Printf("- Path: %s\n", *outputPath)
	fmt.Printf("- Seed: %d\n", *seed)
	fmt.Printf("- Ballots: %d\n", stats.TotalBallots)
	fmt.Printf("- Group sizes: %v\n", stats.GroupSizes)
	fmt.Printf("- First choices by group: %v\n", stats.FirstChoices)
	fmt.Printf("- Average ballot length: %.2f\n", stats.AvgBallotLength)
}

// writeJob converts dataset into a job file and validates it with the same
// loader fairrank uses.
func writeJob(dataset *testutils.ProfileDataset, mode string, seats int, path string) error {
	job := application.JobConfig{
		Version: "1.0.0",
		Metadata: application.Metadata{
			Name:        fmt.Sprintf("synthetic-%d", dataset.Metadata.Seed),
			Description: dataset.Metadata.Description,
			Tags:        []string{"synthetic"},
		},
		Input: application.InputConfig{
			Mode:    mode,
			Seats:   seats,
			Ballots: dataset.Ballots,
		},
		Exposure: application.ExposureSettings{Enabled: true},
	}
	for _, p := range dataset.Pool {
		job.Input.Pool = append(job.Input.Pool, application.CandidateConfig{
			ID:       p.ID,
			Group:    p.Group,
			Features: p.Features,
		})
	}

	data, err := yaml.Marshal(&job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	loader, err := application.NewJobLoader(nil)
	if err != nil {
		return err
	}
	if _, err := loader.LoadFromReader(context.Background(), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("generated job is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write job file: %w", err)
	}
	return nil
}
