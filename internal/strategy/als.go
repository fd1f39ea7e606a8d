package strategy

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/TobiSchelling/recbench/internal/compute"
	"github.com/TobiSchelling/recbench/internal/ratings"
)

// ALS is a collaborative-filtering strategy factorizing the explicit
// user-item rating matrix with alternating least squares.
//
// Users or items absent from the training slice have no factors and are
// dropped from predictions.
type ALS struct {
	name   string
	user   int64
	params Params
	lease  *compute.Lease

	slice       *ratings.Table
	userFactors map[int64][]float64
	itemFactors map[int64][]float64
	fitted      bool

	closeOnce sync.Once
	closeErr  error
}

// NewALS creates an ALS strategy for user holding a lease on session.
// A nil session runs fits unbounded.
func NewALS(user int64, deps Deps) (*ALS, error) {
	a := &ALS{name: "als", user: user, params: withDefaults(deps.Params)}
	if deps.Session != nil {
		lease, err := deps.Session.Acquire()
		if err != nil {
			return nil, fmt.Errorf("acquiring compute session: %w", err)
		}
		a.lease = lease
	}
	return a, nil
}

func withDefaults(p Params) Params {
	d := DefaultParams()
	if p.Rank <= 0 {
		p.Rank = d.Rank
	}
	if p.Iterations <= 0 {
		p.Iterations = d.Iterations
	}
	if p.RegParam <= 0 {
		p.RegParam = d.RegParam
	}
	if p.WindowDays <= 0 {
		p.WindowDays = d.WindowDays
	}
	if p.Anchor == "" {
		p.Anchor = d.Anchor
	}
	return p
}

func (a *ALS) Fit(ctx context.Context, slice *ratings.Table) error {
	if a.fitted {
		return ErrAlreadyFitted
	}
	a.fitted = true
	if slice == nil {
		slice = ratings.New(nil)
	}
	a.slice = slice
	if slice.Len() == 0 {
		return nil
	}

	if a.lease == nil {
		return a.factorize(ctx)
	}
	return a.lease.Run(ctx, a.factorize)
}

func (a *ALS) Predict(_ context.Context, k int, removeSeen bool) ([]Scored, error) {
	if !a.fitted {
		return nil, ErrNotFitted
	}
	u, ok := a.userFactors[a.user]
	if !ok {
		return nil, nil
	}
	return rank(a.slice, a.user, k, removeSeen, func(item int64) (float64, bool) {
		v, ok := a.itemFactors[item]
		if !ok {
			return 0, false
		}
		return floats.Dot(u, v), true
	}), nil
}

func (a *ALS) Close() error {
	a.closeOnce.Do(func() {
		if a.lease == nil {
			return
		}
		if err := a.lease.Release(); err != nil {
			a.closeErr = &ResourceError{Strategy: a.name, User: a.user, Err: err}
		}
	})
	return a.closeErr
}

type entry struct {
	other  int
	rating float64
}

func (a *ALS) factorize(ctx context.Context) error {
	userIdx := make(map[int64]int)
	itemIdx := make(map[int64]int)
	var users, items []int64
	var byUser, byItem [][]entry

	a.slice.Each(func(e ratings.Event) {
		u, ok := userIdx[e.User]
		if !ok {
			u = len(users)
			userIdx[e.User] = u
			users = append(users, e.User)
			byUser = append(byUser, nil)
		}
		i, ok := itemIdx[e.Item]
		if !ok {
			i = len(items)
			itemIdx[e.Item] = i
			items = append(items, e.Item)
			byItem = append(byItem, nil)
		}
		byUser[u] = append(byUser[u], entry{other: i, rating: e.Rating})
		byItem[i] = append(byItem[i], entry{other: u, rating: e.Rating})
	})

	rank := a.params.Rank
	rng := rand.New(rand.NewPCG(a.params.Seed, a.params.Seed^0x9e3779b97f4a7c15))
	userF := initFactors(len(users), rank, rng)
	itemF := initFactors(len(items), rank, rng)

	for iter := 0; iter < a.params.Iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.solveAll(userF, itemF, byUser); err != nil {
			return err
		}
		if err := a.solveAll(itemF, userF, byItem); err != nil {
			return err
		}
	}

	a.userFactors = make(map[int64][]float64, len(users))
	for u, id := range users {
		a.userFactors[id] = userF[u]
	}
	a.itemFactors = make(map[int64][]float64, len(items))
	for i, id := range items {
		a.itemFactors[id] = itemF[i]
	}
	return nil
}

func initFactors(n, rank int, rng *rand.Rand) [][]float64 {
	scale := 1 / math.Sqrt(float64(rank))
	out := make([][]float64, n)
	for i := range out {
		row := make([]float64, rank)
		for j := range row {
			row[j] = math.Abs(rng.NormFloat64()) * scale
		}
		out[i] = row
	}
	return out
}

// solveAll recomputes every row of dst holding fixed constant, solving
// (VᵀV + λ·n·I) x = Vᵀr per row with n the row's rating count.
func (a *ALS) solveAll(dst, fixed [][]float64, rows [][]entry) error {
	rank := a.params.Rank
	for r, entries := range rows {
		if len(entries) == 0 {
			continue
		}
		lhs := mat.NewSymDense(rank, nil)
		rhs := mat.NewVecDense(rank, nil)
		for _, e := range entries {
			v := mat.NewVecDense(rank, fixed[e.other])
			lhs.SymRankOne(lhs, 1, v)
			rhs.AddScaledVec(rhs, e.rating, v)
		}
		reg := a.params.RegParam * float64(len(entries))
		for d := 0; d < rank; d++ {
			lhs.SetSym(d, d, lhs.At(d, d)+reg)
		}

		var x mat.VecDense
		var chol mat.Cholesky
		if chol.Factorize(lhs) {
			if err := chol.SolveVecTo(&x, rhs); err != nil {
				return fmt.Errorf("als solve: %w", err)
			}
		} else if err := x.SolveVec(lhs, rhs); err != nil {
			return fmt.Errorf("als solve: %w", err)
		}

		row := dst[r]
		for d := 0; d < rank; d++ {
			val := x.AtVec(d)
			if a.params.Nonnegative && val < 0 {
				val = 0
			}
			row[d] = val
		}
	}
	return nil
}
