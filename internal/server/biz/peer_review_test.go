package biz

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/looplj/classhub/internal/errs"
	"github.com/looplj/classhub/internal/notify"
	"github.com/looplj/classhub/internal/objects"
	"github.com/looplj/classhub/internal/store"
)

func review(score any) SubmitReviewInput {
	return SubmitReviewInput{Payload: map[string]any{"score": score, "comment": "solid work"}}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestPeerReviewService_Window(t *testing.T) {
	h := newHarness(t)
	st := h.students(4)
	a, b, c, outsider := st[0], st[1], st[2], st[3]
	class := h.class(st...)
	team := h.team(class, a, b, c)
	h.team(class, outsider)
	project := h.activeProject(team, a)

	submit := func(reviewer, reviewee *store.User, score any) error {
		in := review(score)
		in.RevieweeID = reviewee.ID
		_, err := h.reviews.SubmitReview(h.as(reviewer), project.ID, in)

		return err
	}

	t.Run("no open window", func(t *testing.T) {
		require.ErrorIs(t, submit(a, b, 80), errs.ErrConflict)
	})

	t.Run("students cannot open windows", func(t *testing.T) {
		_, err := h.reviews.OpenWindow(h.as(a), class.ID, objects.StageRequirements)
		require.ErrorIs(t, err, errs.ErrForbidden)
	})

	window, err := h.reviews.OpenWindow(h.as(h.teacher), class.ID, objects.StageRequirements)
	require.NoError(t, err)
	require.Equal(t, objects.WindowStatusOpen, window.Status)

	require.NoError(t, submit(a, b, 80))
	require.NoError(t, submit(a, c, 60))
	require.NoError(t, submit(b, a, 100))
	require.NoError(t, submit(b, c, 60))
	require.NoError(t, submit(c, a, 100))
	require.NoError(t, submit(c, b, 80))

	t.Run("invalid reviews", func(t *testing.T) {
		require.ErrorIs(t, submit(a, a, 90), errs.ErrValidation)
		require.ErrorIs(t, submit(a, b, 90), errs.ErrConflict)
		require.ErrorIs(t, submit(a, outsider, 90), errs.ErrValidation)
		require.ErrorIs(t, submit(outsider, a, 90), errs.ErrForbidden)
		require.ErrorIs(t, submit(b, c, "high"), errs.ErrValidation)
	})

	t.Run("unpublished reviews are hidden from students", func(t *testing.T) {
		reviews, err := h.reviews.ListReviews(h.as(a), project.ID)
		require.NoError(t, err)
		require.Empty(t, reviews)

		reviews, err = h.reviews.ListReviews(h.as(h.teacher), project.ID)
		require.NoError(t, err)
		require.Len(t, reviews, 6)

		_, err = h.reviews.ListReviews(h.as(outsider), project.ID)
		require.ErrorIs(t, err, errs.ErrForbidden)
	})

	t.Run("coefficients need a sealed window", func(t *testing.T) {
		_, err := h.reviews.ComputeCoefficients(h.as(h.teacher), window.ID, team.ID)
		require.ErrorIs(t, err, errs.ErrConflict)

		_, err = h.reviews.DecideAdoption(h.as(h.teacher), project.ID, AdoptionInput{Adopt: true})
		require.ErrorIs(t, err, errs.ErrConflict)
	})

	sealed, err := h.reviews.CloseWindow(h.as(h.teacher), window.ID)
	require.NoError(t, err)
	require.Equal(t, objects.WindowStatusSealed, sealed.Status)

	t.Run("sealed window takes no reviews", func(t *testing.T) {
		require.ErrorIs(t, submit(b, a, 50), errs.ErrConflict)

		_, err := h.reviews.CloseWindow(h.as(h.teacher), window.ID)
		require.ErrorIs(t, err, errs.ErrConflict)

		reviews, err := h.reviews.ListReviews(h.as(a), project.ID)
		require.NoError(t, err)
		require.Empty(t, reviews)
	})

	t.Run("coefficients", func(t *testing.T) {
		list, err := h.reviews.ComputeCoefficients(h.as(h.teacher), window.ID, team.ID)
		require.NoError(t, err)
		require.Len(t, list, 3)

		byUser := lo.KeyBy(list, func(c store.PeerReviewCoefficient) int64 { return c.UserID })
		assertDecimal(t, "1.25", byUser[a.ID].Coefficient)
		assertDecimal(t, "1", byUser[b.ID].Coefficient)
		assertDecimal(t, "0.75", byUser[c.ID].Coefficient)
	})

	effective := func(t *testing.T, u *store.User) decimal.Decimal {
		t.Helper()

		got, err := h.reviews.EffectiveCoefficient(h.as(h.teacher), window.ID, team.ID, u.ID)
		require.NoError(t, err)

		return got
	}

	t.Run("unpublished coefficients are hidden from students", func(t *testing.T) {
		_, err := h.reviews.EffectiveCoefficient(h.as(a), window.ID, team.ID, a.ID)
		require.ErrorIs(t, err, errs.ErrForbidden)

		_, err = h.reviews.EffectiveCoefficient(h.as(a), window.ID, team.ID, b.ID)
		require.ErrorIs(t, err, errs.ErrForbidden)

		_, err = h.reviews.EffectiveCoefficient(h.as(outsider), window.ID, team.ID, outsider.ID)
		require.ErrorIs(t, err, errs.ErrForbidden)
	})

	t.Run("adoption", func(t *testing.T) {
		assertDecimal(t, "1.25", effective(t, a))

		adoption, err := h.reviews.DecideAdoption(h.as(h.teacher), project.ID, AdoptionInput{Adopt: false})
		require.NoError(t, err)
		require.True(t, adoption.ForcedCoefficient.Valid)
		assertDecimal(t, "1", adoption.ForcedCoefficient.Decimal)
		assertDecimal(t, "1", effective(t, a))
		assertDecimal(t, "1", effective(t, c))

		forced := decimal.RequireFromString("0.9")

		_, err = h.reviews.DecideAdoption(h.as(h.teacher), project.ID, AdoptionInput{Adopt: false, ForcedCoefficient: &forced})
		require.NoError(t, err)
		assertDecimal(t, "0.9", effective(t, b))

		_, err = h.reviews.DecideAdoption(h.as(h.teacher), project.ID, AdoptionInput{WindowID: &window.ID, Adopt: true})
		require.NoError(t, err)
		assertDecimal(t, "0.75", effective(t, c))

		negative := decimal.NewFromInt(-1)

		_, err = h.reviews.DecideAdoption(h.as(h.teacher), project.ID, AdoptionInput{Adopt: false, ForcedCoefficient: &negative})
		require.ErrorIs(t, err, errs.ErrValidation)

		_, err = h.reviews.DecideAdoption(h.as(a), project.ID, AdoptionInput{Adopt: true})
		require.ErrorIs(t, err, errs.ErrForbidden)
	})

	t.Run("publish", func(t *testing.T) {
		published, err := h.reviews.PublishWindow(h.as(h.teacher), window.ID)
		require.NoError(t, err)
		require.Equal(t, objects.WindowStatusPublished, published.Status)

		reviews, err := h.reviews.ListReviews(h.as(b), project.ID)
		require.NoError(t, err)
		require.Len(t, reviews, 6)

		for _, r := range reviews {
			require.Nil(t, r.ReviewerID)
			require.Nil(t, r.TeamID)
		}

		raw, err := json.Marshal(reviews)
		require.NoError(t, err)
		require.False(t, gjson.GetBytes(raw, "0.reviewerId").Exists())
		require.False(t, gjson.GetBytes(raw, "0.classId").Exists())
		require.Equal(t, "solid work", gjson.Get(gjson.GetBytes(raw, "0.payload").String(), "comment").String())

		staffView, err := h.reviews.ListReviews(h.as(h.teacher), project.ID)
		require.NoError(t, err)

		raw, err = json.Marshal(staffView)
		require.NoError(t, err)
		require.True(t, gjson.GetBytes(raw, "0.reviewerId").Exists())
		assert.ElementsMatch(t,
			[]int64{a.ID, a.ID, b.ID, b.ID, c.ID, c.ID},
			lo.Map(staffView, func(r ReviewView, _ int) int64 { return *r.ReviewerID }))

		got, err := h.reviews.EffectiveCoefficient(h.as(a), window.ID, team.ID, a.ID)
		require.NoError(t, err)
		assertDecimal(t, "1.25", got)

		_, err = h.reviews.EffectiveCoefficient(h.as(outsider), window.ID, team.ID, outsider.ID)
		require.ErrorIs(t, err, errs.ErrForbidden)

		recipients := lo.Map(h.sink.ofType(notify.TypeReviewsPublished), func(m notify.Message, _ int) int64 { return m.UserID })
		assert.ElementsMatch(t, []int64{a.ID, b.ID, c.ID, outsider.ID}, recipients)
	})
}

func TestCoefficients(t *testing.T) {
	ctx := context.Background()

	reviews := []store.PeerReview{
		{ID: 1, RevieweeID: 1, PayloadJSON: `{"score": 90}`},
		{ID: 2, RevieweeID: 2, PayloadJSON: `{"score": 60}`},
		{ID: 3, RevieweeID: 2, PayloadJSON: `{"score": "n/a"}`},
		{ID: 4, RevieweeID: 3, PayloadJSON: `{"comment": "no score"}`},
	}

	got := coefficients(ctx, reviews)
	require.Len(t, got, 2)
	assertDecimal(t, "1.2", got[1])
	assertDecimal(t, "0.8", got[2])

	t.Run("zero mean is neutral", func(t *testing.T) {
		got := coefficients(ctx, []store.PeerReview{
			{RevieweeID: 1, PayloadJSON: `{"score": 0}`},
			{RevieweeID: 2, PayloadJSON: `{"score": 0}`},
		})
		assertDecimal(t, "1", got[1])
		assertDecimal(t, "1", got[2])
	})

	t.Run("no scores", func(t *testing.T) {
		require.Empty(t, coefficients(ctx, nil))
	})
}
