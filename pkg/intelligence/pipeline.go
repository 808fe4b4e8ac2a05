package intelligence

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/huntplane/huntplane/internal/core"
	"github.com/huntplane/huntplane/internal/logger"
	"github.com/huntplane/huntplane/pkg/types"
)

// Pipeline synthesizes structured attack surface for one target. Each
// stage is idempotent: re-running a pass against unchanged input
// creates no duplicate rows. A failure on one item is logged and
// skipped, never fatal to the pass.
type Pipeline struct {
	store core.Store
	log   *logger.Logger
}

func NewPipeline(store core.Store, log *logger.Logger) *Pipeline {
	return &Pipeline{store: store, log: log.WithComponent("intelligence")}
}

// allStages is the canonical execution order. Requested subsets run in
// this order regardless of how the caller listed them.
var allStages = []string{
	types.StageClustering,
	types.StageParameters,
	types.StageAuth,
	types.StageDiffs,
	types.StageCandidates,
}

// Run executes the job's requested stages and drives its state
// machine. An empty stage list means the full pass.
func (p *Pipeline) Run(ctx context.Context, job *types.IntelligenceJob) error {
	log := p.log.WithTarget(job.TargetID).WithJobID(job.ID)

	if err := job.Transition(types.IntelRunning); err != nil {
		return err
	}
	if err := p.store.UpdateIntelligenceJob(ctx, job); err != nil {
		return err
	}

	requested := map[string]bool{}
	for _, s := range job.Stages {
		requested[s] = true
	}
	runAll := len(job.Stages) == 0

	started := time.Now()
	results, err := p.runStages(ctx, job.TargetID, func(stage string) bool {
		return runAll || requested[stage]
	}, log)
	job.ResultsCount = results

	if err != nil {
		job.ErrorMessage = err.Error()
		if terr := job.Transition(types.IntelFailed); terr != nil {
			return terr
		}
		if uerr := p.store.UpdateIntelligenceJob(ctx, job); uerr != nil {
			return uerr
		}
		return err
	}

	if err := job.Transition(types.IntelDone); err != nil {
		return err
	}
	log.Infow("Intelligence pass complete",
		"results", results,
		"duration", time.Since(started),
	)
	return p.store.UpdateIntelligenceJob(ctx, job)
}

func (p *Pipeline) runStages(ctx context.Context, targetID string, wants func(string) bool, log *logger.Logger) (int, error) {
	endpoints, err := p.store.GetEndpoints(ctx, targetID)
	if err != nil {
		return 0, fmt.Errorf("loading endpoints: %w", err)
	}

	groups := groupEndpoints(endpoints)
	total := 0

	for _, stage := range allStages {
		if !wants(stage) {
			continue
		}
		var (
			count int
			err   error
		)
		switch stage {
		case types.StageClustering:
			count, err = p.runClustering(ctx, targetID, groups, log)
		case types.StageParameters:
			count, err = p.runParameters(ctx, targetID, groups, log)
		case types.StageAuth:
			count, err = p.runAuth(ctx, targetID, groups, log)
		case types.StageDiffs:
			count, err = p.runDiffs(ctx, targetID, endpoints, log)
		case types.StageCandidates:
			count, err = p.runCandidates(ctx, targetID, log)
		}
		if err != nil {
			return total, fmt.Errorf("stage %s: %w", stage, err)
		}
		total += count
		log.Infow("Stage complete", "stage", stage, "results", count)
	}
	return total, nil
}

// clusterKey is the identity triple of a cluster.
type clusterKey struct {
	normalizedPath string
	method         string
	signature      string
}

type endpointGroup struct {
	key     clusterKey
	members []types.Endpoint
}

// groupEndpoints buckets endpoints by their cluster identity. The
// grouping is recomputed on every pass so endpoint counts stay exact
// under re-runs.
func groupEndpoints(endpoints []types.Endpoint) []*endpointGroup {
	index := map[clusterKey]*endpointGroup{}
	var ordered []*endpointGroup
	for _, ep := range endpoints {
		key := clusterKey{
			normalizedPath: NormalizeURL(ep.URL),
			method:         methodOf(ep),
			signature:      ParameterSignature(parameterNames(ep)),
		}
		group, ok := index[key]
		if !ok {
			group = &endpointGroup{key: key}
			index[key] = group
			ordered = append(ordered, group)
		}
		group.members = append(group.members, ep)
	}
	return ordered
}

func methodOf(ep types.Endpoint) string {
	if ep.Method == "" {
		return "GET"
	}
	return strings.ToUpper(ep.Method)
}

// parameterNames merges declared parameter names with names observed
// in the endpoint's query string.
func parameterNames(ep types.Endpoint) []string {
	seen := map[string]bool{}
	var names []string
	for _, name := range ep.ParameterNames {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	queryNames, _ := QueryParameters(ep.URL)
	for _, name := range queryNames {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

func (p *Pipeline) runClustering(ctx context.Context, targetID string, groups []*endpointGroup, log *logger.Logger) (int, error) {
	created := 0
	for _, group := range groups {
		existing, err := p.store.FindCluster(ctx, targetID, group.key.normalizedPath, group.key.method, group.key.signature)
		if err != nil {
			log.Warnw("Cluster lookup failed", "path", group.key.normalizedPath, "error", err)
			continue
		}
		if existing != nil {
			if existing.EndpointCount != len(group.members) {
				existing.EndpointCount = len(group.members)
				if err := p.store.UpdateCluster(ctx, existing); err != nil {
					log.Warnw("Cluster update failed", "cluster_id", existing.ID, "error", err)
				}
			}
			continue
		}
		cluster := &types.Cluster{
			ID:                 uuid.New().String(),
			TargetID:           targetID,
			NormalizedPath:     group.key.normalizedPath,
			HTTPMethod:         group.key.method,
			ParameterSignature: group.key.signature,
			EndpointCount:      len(group.members),
			CreatedAt:          time.Now().UTC(),
		}
		if err := p.store.SaveCluster(ctx, cluster); err != nil {
			log.Warnw("Cluster save failed", "path", group.key.normalizedPath, "error", err)
			continue
		}
		created++
	}
	return created, nil
}

func (p *Pipeline) runParameters(ctx context.Context, targetID string, groups []*endpointGroup, log *logger.Logger) (int, error) {
	created := 0
	for _, group := range groups {
		cluster, err := p.store.FindCluster(ctx, targetID, group.key.normalizedPath, group.key.method, group.key.signature)
		if err != nil || cluster == nil {
			continue
		}

		values := map[string][]string{}
		var order []string
		for _, ep := range group.members {
			names, vals := QueryParameters(ep.URL)
			for _, name := range names {
				if _, ok := values[name]; !ok {
					order = append(order, name)
				}
				values[name] = append(values[name], vals[name]...)
			}
			for _, name := range ep.ParameterNames {
				if _, ok := values[name]; !ok {
					order = append(order, name)
					values[name] = nil
				}
			}
		}

		for _, name := range order {
			existing, err := p.store.FindParameter(ctx, cluster.ID, name)
			if err != nil {
				log.Warnw("Parameter lookup failed", "cluster_id", cluster.ID, "name", name, "error", err)
				continue
			}
			if existing != nil {
				continue
			}
			samples := UniqueSamples(values[name])
			dataType := InferDataType(samples)
			role, confidence := InferRole(name, dataType)
			param := &types.Parameter{
				ID:           uuid.New().String(),
				ClusterID:    cluster.ID,
				Name:         name,
				DataType:     dataType,
				SemanticRole: role,
				Confidence:   confidence,
				SampleValues: samples,
				CreatedAt:    time.Now().UTC(),
			}
			if err := p.store.SaveParameter(ctx, param); err != nil {
				log.Warnw("Parameter save failed", "cluster_id", cluster.ID, "name", name, "error", err)
				continue
			}
			created++
		}
	}
	return created, nil
}

func (p *Pipeline) runAuth(ctx context.Context, targetID string, groups []*endpointGroup, log *logger.Logger) (int, error) {
	observations, err := p.store.GetObservations(ctx, targetID)
	if err != nil {
		return 0, fmt.Errorf("loading observations: %w", err)
	}

	byHost := map[string][]types.Observation{}
	for _, obs := range observations {
		byHost[strings.ToLower(obs.Host)] = append(byHost[strings.ToLower(obs.Host)], obs)
	}

	created := 0
	for _, group := range groups {
		cluster, err := p.store.FindCluster(ctx, targetID, group.key.normalizedPath, group.key.method, group.key.signature)
		if err != nil || cluster == nil {
			continue
		}
		existing, err := p.store.GetAuthSurface(ctx, cluster.ID)
		if err != nil {
			log.Warnw("Auth surface lookup failed", "cluster_id", cluster.ID, "error", err)
			continue
		}
		if existing != nil {
			continue
		}

		var relevant []types.Observation
		for _, ep := range group.members {
			if u, err := url.Parse(ep.URL); err == nil {
				relevant = append(relevant, byHost[strings.ToLower(u.Hostname())]...)
			}
		}
		assessment := DetectAuthSurface(relevant)
		if assessment.Authenticated == nil {
			continue
		}

		surface := &types.AuthSurface{
			ID:              uuid.New().String(),
			ClusterID:       cluster.ID,
			IsAuthenticated: assessment.Authenticated,
			AuthType:        assessment.AuthType,
			Confidence:      assessment.Confidence,
			CreatedAt:       time.Now().UTC(),
		}
		if err := p.store.SaveAuthSurface(ctx, surface); err != nil {
			log.Warnw("Auth surface save failed", "cluster_id", cluster.ID, "error", err)
			continue
		}
		cluster.HasAuth = assessment.Authenticated
		if err := p.store.UpdateCluster(ctx, cluster); err != nil {
			log.Warnw("Cluster auth flag update failed", "cluster_id", cluster.ID, "error", err)
		}
		created++
	}
	return created, nil
}

func (p *Pipeline) runDiffs(ctx context.Context, targetID string, endpoints []types.Endpoint, log *logger.Logger) (int, error) {
	clusters, err := p.store.ListClusters(ctx, targetID)
	if err != nil {
		return 0, fmt.Errorf("loading clusters: %w", err)
	}

	created := 0
	for _, cluster := range clusters {
		existing, err := p.store.ListResponseDiffs(ctx, cluster.ID)
		if err != nil {
			log.Warnw("Diff lookup failed", "cluster_id", cluster.ID, "error", err)
			continue
		}
		known := map[string]bool{}
		for _, d := range existing {
			known[d.EndpointA+"|"+d.EndpointB] = true
		}

		for _, pair := range CompareEndpoints(cluster, endpoints) {
			if known[pair.EndpointAID+"|"+pair.EndpointBID] {
				continue
			}
			diff := &types.ResponseDiff{
				ID:         uuid.New().String(),
				ClusterID:  cluster.ID,
				EndpointA:  pair.EndpointAID,
				EndpointB:  pair.EndpointBID,
				HashA:      pair.HashA,
				HashB:      pair.HashB,
				Suspicious: pair.Suspicious,
				DiffType:   pair.DiffType,
				Notes:      pair.Notes,
				CreatedAt:  time.Now().UTC(),
			}
			if err := p.store.SaveResponseDiff(ctx, diff); err != nil {
				log.Warnw("Diff save failed", "cluster_id", cluster.ID, "error", err)
				continue
			}
			created++
		}
	}
	return created, nil
}

func (p *Pipeline) runCandidates(ctx context.Context, targetID string, log *logger.Logger) (int, error) {
	clusters, err := p.store.ListClusters(ctx, targetID)
	if err != nil {
		return 0, fmt.Errorf("loading clusters: %w", err)
	}

	created := 0
	for _, cluster := range clusters {
		params, err := p.store.ListParameters(ctx, cluster.ID)
		if err != nil {
			log.Warnw("Parameter list failed", "cluster_id", cluster.ID, "error", err)
			continue
		}

		for _, proposal := range GenerateCandidates(cluster, params) {
			existing, err := p.store.FindCandidate(ctx, cluster.ID, proposal.AttackType)
			if err != nil {
				log.Warnw("Candidate lookup failed", "cluster_id", cluster.ID, "attack_type", proposal.AttackType, "error", err)
				continue
			}
			if existing != nil {
				continue
			}
			candidate := &types.AttackCandidate{
				ID:                 uuid.New().String(),
				ClusterID:          cluster.ID,
				TargetID:           targetID,
				AttackType:         proposal.AttackType,
				RiskLevel:          proposal.RiskLevel,
				Reasoning:          proposal.Reasoning,
				AffectedParameters: proposal.AffectedParameters,
				Confidence:         proposal.Confidence,
				AutoGenerated:      true,
				CreatedAt:          time.Now().UTC(),
			}
			if err := p.store.SaveCandidate(ctx, candidate); err != nil {
				log.Warnw("Candidate save failed", "cluster_id", cluster.ID, "attack_type", proposal.AttackType, "error", err)
				continue
			}
			created++
		}
	}
	return created, nil
}
