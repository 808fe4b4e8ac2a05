// Package vulntest executes approved attack candidates: it injects
// catalog payloads through the rate-limited executor, verifies the
// responses for vulnerability signals, scores the evidence into a
// confidence category and drives the test job state machine.
package vulntest

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/huntplane/huntplane/internal/core"
	"github.com/huntplane/huntplane/internal/logger"
	"github.com/huntplane/huntplane/pkg/types"
)

type catalogEntry struct {
	PayloadString    string
	PayloadType      string
	DetectionPattern string
	ConfidenceWeight int
}

// Built-in payload catalog. Every entry is a non-destructive probe:
// detection payloads only, no data-modifying or exfiltrating strings.
var builtinCatalog = map[types.AttackType][]catalogEntry{
	types.AttackXSS: {
		{`<script>alert(1)</script>`, "basic_reflection", `<script>alert\(1\)</script>`, 15},
		{`"><script>alert(document.domain)</script>`, "quote_escape", `<script>alert\(document\.domain\)</script>`, 20},
		{`<img src=x onerror=alert(1)>`, "event_handler", `<img src=x onerror=alert\(1\)>`, 18},
		{`xss_test_12345`, "canary_string", `xss_test_12345`, 5},
	},
	types.AttackSQLi: {
		{`'`, "single_quote", `(SQL|MySQL|syntax|query) error`, 10},
		{`' OR '1'='1`, "boolean_logic", `(SQL|MySQL|syntax|query) error`, 15},
		{`1' AND '1'='1`, "and_logic", `(SQL|MySQL|syntax|query) error`, 12},
		{`admin'--`, "comment_injection", `(SQL|MySQL|syntax|query) error`, 18},
	},
	types.AttackIDOR: {
		{`1`, "sequential_id", "", 10},
		{`2`, "sequential_id", "", 10},
		{`999999`, "high_id", "", 8},
	},
	types.AttackOpenRedirect: {
		{`https://evil.com`, "external_domain", `evil\.com`, 20},
		{`//evil.com`, "protocol_relative", `//evil\.com`, 18},
		{`/\evil.com`, "backslash_bypass", `evil\.com`, 15},
	},
	types.AttackSSRF: {
		{`http://localhost`, "localhost", "", 15},
		{`http://127.0.0.1`, "loopback", "", 15},
		{`http://169.254.169.254`, "metadata", "", 20},
	},
	types.AttackLFI: {
		{`../../../etc/passwd`, "path_traversal", `root:.*:0:0:`, 25},
		{`....//....//....//etc/passwd`, "double_encoding", `root:.*:0:0:`, 22},
		{`/etc/passwd`, "absolute_path", `root:.*:0:0:`, 20},
	},
}

// customPayloadFile is the YAML shape of an operator-provided payload
// file merged on top of the built-in catalog.
type customPayloadFile struct {
	Payloads []struct {
		AttackType       string `yaml:"attack_type"`
		PayloadString    string `yaml:"payload_string"`
		PayloadType      string `yaml:"payload_type"`
		DetectionPattern string `yaml:"detection_pattern"`
		ConfidenceWeight int    `yaml:"confidence_weight"`
		Description      string `yaml:"description"`
	} `yaml:"payloads"`
}

// SeedPayloads loads the built-in catalog, plus any custom payload
// file, into the store. Idempotent on (attack_type, payload_string):
// re-seeding never duplicates or resets existing rows.
func SeedPayloads(ctx context.Context, store core.Store, log *logger.Logger, payloadFile string) (int, error) {
	seeded := 0

	// Seq fixes the trial order per attack type: catalog position for
	// built-ins, then file order for custom entries.
	nextSeq := map[types.AttackType]int{}

	for attackType, entries := range builtinCatalog {
		for i, entry := range entries {
			created, err := seedOne(ctx, store, &types.Payload{
				ID:               uuid.New().String(),
				AttackType:       attackType,
				PayloadString:    entry.PayloadString,
				PayloadType:      entry.PayloadType,
				DetectionPattern: entry.DetectionPattern,
				ConfidenceWeight: entry.ConfidenceWeight,
				Seq:              i + 1,
				IsActive:         true,
				IsSafe:           true,
				CreatedAt:        time.Now().UTC(),
			})
			if err != nil {
				return seeded, err
			}
			if created {
				seeded++
			}
		}
		nextSeq[attackType] = len(entries)
	}

	if payloadFile != "" {
		custom, err := loadCustomPayloads(payloadFile)
		if err != nil {
			return seeded, err
		}
		for _, p := range custom {
			nextSeq[p.AttackType]++
			p.Seq = nextSeq[p.AttackType]
			created, err := seedOne(ctx, store, p)
			if err != nil {
				return seeded, err
			}
			if created {
				seeded++
			}
		}
	}

	log.Infow("Payload catalog seeded", "new_payloads", seeded)
	return seeded, nil
}

func seedOne(ctx context.Context, store core.Store, payload *types.Payload) (bool, error) {
	existing, err := store.FindPayload(ctx, payload.AttackType, payload.PayloadString)
	if err != nil {
		return false, fmt.Errorf("payload lookup: %w", err)
	}
	if existing != nil {
		return false, nil
	}
	if err := store.SavePayload(ctx, payload); err != nil {
		return false, fmt.Errorf("payload save: %w", err)
	}
	return true, nil
}

func loadCustomPayloads(path string) ([]*types.Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading payload file: %w", err)
	}
	var file customPayloadFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing payload file: %w", err)
	}

	var payloads []*types.Payload
	for _, entry := range file.Payloads {
		if entry.AttackType == "" || entry.PayloadString == "" {
			return nil, fmt.Errorf("payload file entry missing attack_type or payload_string")
		}
		payloads = append(payloads, &types.Payload{
			ID:               uuid.New().String(),
			AttackType:       types.AttackType(entry.AttackType),
			PayloadString:    entry.PayloadString,
			PayloadType:      entry.PayloadType,
			DetectionPattern: entry.DetectionPattern,
			ConfidenceWeight: entry.ConfidenceWeight,
			IsActive:         true,
			IsSafe:           true,
			Description:      entry.Description,
			CreatedAt:        time.Now().UTC(),
		})
	}
	return payloads, nil
}
