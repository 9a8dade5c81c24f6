package cluster

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/nicktill/costcluster/pkg/aggregate"
	"github.com/nicktill/costcluster/pkg/matrix"
)

// Method names, in battery order.
const (
	MethodKMeans        = "KMeans"
	MethodAgglomerative = "Agglomerative"
	MethodGMM           = "GMM"
	MethodDBSCAN        = "DBSCAN"
	MethodHDBSCAN       = "HDBSCAN"
	MethodLouvain       = "Louvain"
)

// Status describes how a method result came about.
type Status string

const (
	StatusOK          Status = "ok"
	StatusDegenerate  Status = "degenerate"
	StatusUnavailable Status = "unavailable"
	StatusEmptyGraph  Status = "empty-graph"
)

// ErrNoValidClustering is returned by Best when no method produced a
// scorable assignment.
var ErrNoValidClustering = errors.New("no valid clustering found")

// Trial is one parameter value tried during a method's internal search.
type Trial struct {
	Param int     `json:"param"`
	Score float64 `json:"score"`
	BIC   float64 `json:"bic,omitempty"`
}

// Result is the outcome of one clustering method.
type Result struct {
	Method string  `json:"method"`
	Param  *int    `json:"param"`
	Score  float64 `json:"score"`
	Labels []int   `json:"labels"`
	Status Status  `json:"status"`
	Note   string  `json:"note,omitempty"`
	Trials []Trial `json:"trials,omitempty"`
}

// Clusters returns the number of non-noise clusters in the assignment.
func (r Result) Clusters() int {
	return CountClusters(r.Labels)
}

// Valid reports whether r can compete for best.
func (r Result) Valid() bool {
	return r.Labels != nil && r.Status == StatusOK && ValidScore(r.Score)
}

// Capabilities gates the optional methods. It is resolved once at startup.
type Capabilities struct {
	HDBSCAN bool
	Louvain bool
}

// Config parameterises the method battery.
type Config struct {
	KMin     int
	KMax     int
	Restarts int
	Seed     uint64 // Louvain random source

	GMMMaxComponents int

	DBSCANNeighbors  int
	DBSCANPercentile float64 // 0-100
	DBSCANMinSamples int

	HDBSCANMinClusterSize int

	LouvainThreshold float64
}

// DefaultConfig returns the standard battery settings.
func DefaultConfig() Config {
	return Config{
		KMin:                  2,
		KMax:                  6,
		Restarts:              10,
		Seed:                  0,
		GMMMaxComponents:      6,
		DBSCANNeighbors:       5,
		DBSCANPercentile:      80,
		DBSCANMinSamples:      3,
		HDBSCANMinClusterSize: 3,
		LouvainThreshold:      0.5,
	}
}

// Analyzer runs every clustering method over one feature matrix.
type Analyzer struct {
	cfg    Config
	caps   Capabilities
	logger *zap.Logger
}

// NewAnalyzer creates an analyzer. A nil logger discards output.
func NewAnalyzer(cfg Config, caps Capabilities, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{cfg: cfg, caps: caps, logger: logger}
}

type dataset struct {
	points [][]float64
	dist   [][]float64
}

// Run applies the battery in order and returns one result per method.
// Degenerate outcomes are reported in the results; the only error is
// context cancellation.
func (a *Analyzer) Run(ctx context.Context, x mat.Matrix) ([]Result, error) {
	points := matrix.Rows2D(x)
	ds := dataset{points: points, dist: Distances(points)}

	steps := []func(dataset, []Result) Result{
		a.kmeans,
		a.agglomerative,
		a.gmm,
		a.dbscan,
		a.hdbscan,
		a.louvain,
	}

	results := make([]Result, 0, len(steps))
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r := step(ds, results)
		a.logger.Debug("method finished",
			zap.String("method", r.Method),
			zap.String("status", string(r.Status)),
			zap.Float64("score", r.Score),
			zap.Int("clusters", r.Clusters()),
		)
		results = append(results, r)
	}
	return results, nil
}

// Best returns the valid result with the highest score; ties keep the
// earliest method.
func Best(results []Result) (Result, error) {
	best := -1
	for i, r := range results {
		if !r.Valid() {
			continue
		}
		if best < 0 || r.Score > results[best].Score {
			best = i
		}
	}
	if best < 0 {
		return Result{}, ErrNoValidClustering
	}
	return results[best], nil
}

func (a *Analyzer) kmeans(ds dataset, _ []Result) Result {
	res := Result{Method: MethodKMeans, Score: InvalidScore, Status: StatusDegenerate}

	hi := min(a.cfg.KMax, len(ds.points)-1)
	for k := a.cfg.KMin; k <= hi; k++ {
		km := DefaultKMeans(k)
		km.Restarts = max(a.cfg.Restarts, 1)
		fit, err := km.Fit(ds.points)
		if err != nil {
			a.logger.Debug("kmeans fit failed", zap.Int("k", k), zap.Error(err))
			res.Trials = append(res.Trials, Trial{Param: k, Score: InvalidScore})
			continue
		}
		score := SilhouetteFromDistances(ds.dist, fit.Labels)
		res.Trials = append(res.Trials, Trial{Param: k, Score: score})

		// Strict > keeps the first k reaching the maximum
		if score > res.Score {
			res.Param = intPtr(k)
			res.Score = score
			res.Labels = fit.Labels
			res.Status = StatusOK
		}
	}

	if res.Param == nil {
		res.Note = fmt.Sprintf("no k in [%d, %d] produced a valid silhouette", a.cfg.KMin, hi)
	}
	return res
}

// agglomerative reuses the k chosen by k-means rather than searching.
func (a *Analyzer) agglomerative(ds dataset, prior []Result) Result {
	res := Result{Method: MethodAgglomerative, Score: InvalidScore, Status: StatusDegenerate}

	var k *int
	for _, r := range prior {
		if r.Method == MethodKMeans {
			k = r.Param
		}
	}
	if k == nil {
		res.Note = "k-means selected no cluster count"
		return res
	}

	res.Param = intPtr(*k)
	res.Labels = Ward(ds.points, *k)
	res.Score = SilhouetteFromDistances(ds.dist, res.Labels)
	if ValidScore(res.Score) {
		res.Status = StatusOK
	}
	return res
}

func (a *Analyzer) gmm(ds dataset, _ []Result) Result {
	res := Result{Method: MethodGMM, Score: InvalidScore, Status: StatusDegenerate}

	var bestBIC float64
	hi := min(a.cfg.GMMMaxComponents, len(ds.points)-1)
	for c := 2; c <= hi; c++ {
		fit, err := DefaultGMM(c).Fit(ds.points)
		if err != nil {
			a.logger.Debug("gmm fit failed", zap.Int("components", c), zap.Error(err))
			continue
		}
		score := SilhouetteFromDistances(ds.dist, fit.Labels)
		res.Trials = append(res.Trials, Trial{Param: c, Score: score, BIC: fit.BIC})

		// Lower BIC is better; strict < keeps the smallest count on ties
		if res.Param == nil || fit.BIC < bestBIC {
			bestBIC = fit.BIC
			res.Param = intPtr(c)
			res.Labels = fit.Labels
			res.Score = score
		}
	}

	switch {
	case res.Param == nil:
		res.Note = "no component count could be fitted"
	case ValidScore(res.Score):
		res.Status = StatusOK
	default:
		res.Note = "minimum-BIC mixture collapsed to a single component"
	}
	return res
}

func (a *Analyzer) dbscan(ds dataset, _ []Result) Result {
	res := Result{Method: MethodDBSCAN, Score: InvalidScore, Status: StatusDegenerate}

	k := min(a.cfg.DBSCANNeighbors, len(ds.points)-1)
	if k < 1 {
		res.Note = "too few points for a neighbourhood estimate"
		return res
	}

	eps := aggregate.CalculatePercentile(KthNeighborDistances(ds.dist, k), a.cfg.DBSCANPercentile/100)
	if eps <= 0 {
		res.Note = "neighbourhood radius is zero"
		return res
	}

	labels, err := DBSCAN(ds.points, eps, a.cfg.DBSCANMinSamples)
	if err != nil {
		res.Note = err.Error()
		return res
	}
	res.Labels = labels
	res.Note = fmt.Sprintf("eps=%.4f", eps)

	// Any noise invalidates the score
	if hasNoise(res.Labels) || distinct(res.Labels) < 2 {
		return res
	}
	res.Score = SilhouetteFromDistances(ds.dist, res.Labels)
	if ValidScore(res.Score) {
		res.Status = StatusOK
	}
	return res
}

func (a *Analyzer) hdbscan(ds dataset, _ []Result) Result {
	if !a.caps.HDBSCAN {
		return unavailable(MethodHDBSCAN)
	}
	res := Result{Method: MethodHDBSCAN, Score: InvalidScore, Status: StatusDegenerate}
	labels, err := HDBSCAN(ds.points, a.cfg.HDBSCANMinClusterSize)
	res.Labels = labels
	if err != nil {
		res.Note = err.Error()
		return res
	}

	// Scored over clustered points only
	var keep []int
	for i, l := range res.Labels {
		if l != Noise {
			keep = append(keep, i)
		}
	}
	sub := make([][]float64, len(keep))
	subLabels := make([]int, len(keep))
	for x, i := range keep {
		sub[x] = make([]float64, len(keep))
		for y, j := range keep {
			sub[x][y] = ds.dist[i][j]
		}
		subLabels[x] = res.Labels[i]
	}

	if distinct(subLabels) >= 2 {
		res.Score = SilhouetteFromDistances(sub, subLabels)
	}
	if ValidScore(res.Score) {
		res.Status = StatusOK
	} else {
		res.Note = "fewer than two clusters outside noise"
	}
	return res
}

func (a *Analyzer) louvain(ds dataset, _ []Result) Result {
	if !a.caps.Louvain {
		return unavailable(MethodLouvain)
	}
	res := Result{Method: MethodLouvain, Score: InvalidScore, Status: StatusDegenerate}

	res.Labels = Louvain(ds.points, a.cfg.LouvainThreshold, a.cfg.Seed)
	if res.Labels == nil {
		res.Status = StatusEmptyGraph
		res.Note = fmt.Sprintf("no pair above cosine similarity %.2f", a.cfg.LouvainThreshold)
		return res
	}

	if hasNoise(res.Labels) {
		res.Note = "some entities have no similar neighbour"
		return res
	}
	res.Score = SilhouetteFromDistances(ds.dist, res.Labels)
	if ValidScore(res.Score) {
		res.Status = StatusOK
	}
	return res
}

func unavailable(method string) Result {
	return Result{
		Method: method,
		Score:  InvalidScore,
		Status: StatusUnavailable,
		Note:   "disabled by configuration",
	}
}

func intPtr(v int) *int { return &v }
