package repository

import (
	"testing"

	"github.com/lewtec/labelhub/internal/domain"
)

func strPtr(s string) *string { return &s }

func TestAnnotationRepository_Create(t *testing.T) {
	store, ctx := setupTestRepositories(t)
	user := SeedUser(t, store.DB(), "testuser")
	_, images := SeedDataset(t, store.DB(), user.ID, domain.DatasetObjectDetection, 1)
	repo := store.Repos().Annotations

	t.Run("creates annotation successfully", func(t *testing.T) {
		ann := &domain.Annotation{
			Type:        domain.AnnotationPolygon,
			CreatedByID: &user.ID,
			ImageID:     images[0].ID,
			Points:      []domain.Point{{X: 1, Y: 1, Order: 0}, {X: 5, Y: 1, Order: 1}, {X: 3, Y: 4, Order: 2}},
		}
		if err := repo.Create(ctx, ann); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if ann.ID == "" {
			t.Error("Expected non-empty ID")
		}
		if ann.Origin != domain.OriginHuman {
			t.Errorf("Origin = %v, want %v", ann.Origin, domain.OriginHuman)
		}

		got, err := repo.ListForImage(ctx, images[0].ID)
		if err != nil {
			t.Fatalf("ListForImage() error = %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("len(ListForImage()) = %d, want 1", len(got))
		}
		if len(got[0].Points) != 3 {
			t.Errorf("len(Points) = %d, want 3", len(got[0].Points))
		}
		if got[0].CreatedAt.IsZero() {
			t.Error("CreatedAt should not be zero")
		}
	})

	t.Run("machine annotation has no creator", func(t *testing.T) {
		ann := &domain.Annotation{Type: domain.AnnotationOCR, Text: strPtr("hello"), Note: strPtr("gemini"), ImageID: images[0].ID}
		if err := repo.Create(ctx, ann); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if ann.Origin != domain.OriginMachine {
			t.Errorf("Origin = %v, want %v", ann.Origin, domain.OriginMachine)
		}
		mine, _ := repo.ListForImageByCreator(ctx, images[0].ID, user.ID)
		if len(mine) != 1 {
			t.Errorf("len(ListForImageByCreator()) = %d, want 1", len(mine))
		}
	})
}

func TestAnnotationRepository_UpdateAndReplacePoints(t *testing.T) {
	store, ctx := setupTestRepositories(t)
	user := SeedUser(t, store.DB(), "testuser")
	_, images := SeedDataset(t, store.DB(), user.ID, domain.DatasetOCR, 1)
	repo := store.Repos().Annotations

	score := 0.5
	ann := &domain.Annotation{Type: domain.AnnotationOCR, Text: strPtr("a"), Score: &score, CreatedByID: &user.ID, ImageID: images[0].ID}
	if err := repo.Create(ctx, ann); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	created := ann.CreatedAt

	ann.Text = strPtr("b")
	ann.IsCrossPage = true
	if err := repo.UpdateScalars(ctx, ann); err != nil {
		t.Fatalf("UpdateScalars() error = %v", err)
	}
	if err := repo.ReplacePoints(ctx, ann.ID, []domain.Point{{X: 9, Y: 9}}); err != nil {
		t.Fatalf("ReplacePoints() error = %v", err)
	}

	got, _ := repo.ListForImage(ctx, images[0].ID)
	if len(got) != 1 {
		t.Fatalf("len(ListForImage()) = %d, want 1", len(got))
	}
	if *got[0].Text != "b" || !got[0].IsCrossPage {
		t.Errorf("Text = %v, IsCrossPage = %v", *got[0].Text, got[0].IsCrossPage)
	}
	if got[0].Score == nil || *got[0].Score != 0.5 {
		t.Errorf("Score = %v, want 0.5", got[0].Score)
	}
	if !got[0].CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got[0].CreatedAt, created)
	}
	if len(got[0].Points) != 1 || got[0].Points[0].X != 9 {
		t.Errorf("Points = %v, want one point at 9,9", got[0].Points)
	}
}

func TestAnnotationRepository_Delete(t *testing.T) {
	store, ctx := setupTestRepositories(t)
	user := SeedUser(t, store.DB(), "testuser")
	_, images := SeedDataset(t, store.DB(), user.ID, domain.DatasetObjectDetection, 1)
	repo := store.Repos().Annotations

	ann := &domain.Annotation{Type: domain.AnnotationRectangle, CreatedByID: &user.ID, ImageID: images[0].ID,
		Points: make([]domain.Point, 4)}
	repo.Create(ctx, ann)

	if err := repo.Delete(ctx, ann.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if ok, _ := repo.Exists(ctx, ann.ID); ok {
		t.Error("annotation should be gone")
	}
	var n int
	store.DB().QueryRow(`SELECT COUNT(*) FROM points`).Scan(&n)
	if n != 0 {
		t.Errorf("points rows = %d, want 0", n)
	}
}

func TestAnnotationRepository_ListHumanOCR(t *testing.T) {
	store, ctx := setupTestRepositories(t)
	user := SeedUser(t, store.DB(), "testuser")
	ds, images := SeedDataset(t, store.DB(), user.ID, domain.DatasetOCR, 3)
	repo := store.Repos().Annotations

	repo.Create(ctx, &domain.Annotation{Type: domain.AnnotationOCR, Text: strPtr("human"), CreatedByID: &user.ID, ImageID: images[0].ID})
	repo.Create(ctx, &domain.Annotation{Type: domain.AnnotationOCR, Text: strPtr("machine"), ImageID: images[1].ID})
	repo.Create(ctx, &domain.Annotation{Type: domain.AnnotationOCR, Text: strPtr(""), CreatedByID: &user.ID, ImageID: images[2].ID})

	got, err := repo.ListHumanOCR(ctx, ds.ID)
	if err != nil {
		t.Fatalf("ListHumanOCR() error = %v", err)
	}
	if len(got) != 1 || got[0].Text != "human" || got[0].ImagePath != images[0].Path {
		t.Errorf("ListHumanOCR() = %+v", got)
	}
}
