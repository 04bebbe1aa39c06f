package repository

import (
	"testing"
	"time"

	"github.com/lewtec/labelhub/internal/domain"
)

func TestStatsRepository_DatasetStats(t *testing.T) {
	store, ctx := setupTestRepositories(t)
	u1 := SeedUser(t, store.DB(), "u1")
	u2 := SeedUser(t, store.DB(), "u2")
	ds, images := SeedDataset(t, store.DB(), u1.ID, domain.DatasetObjectDetection, 4)
	anns := store.Repos().Annotations

	// image 0: one human and one machine annotation
	anns.Create(ctx, &domain.Annotation{Type: domain.AnnotationOCR, CreatedByID: &u1.ID, ImageID: images[0].ID})
	anns.Create(ctx, &domain.Annotation{Type: domain.AnnotationOCR, ImageID: images[0].ID})
	// image 1: two humans
	anns.Create(ctx, &domain.Annotation{Type: domain.AnnotationOCR, CreatedByID: &u1.ID, ImageID: images[1].ID})
	anns.Create(ctx, &domain.Annotation{Type: domain.AnnotationOCR, CreatedByID: &u2.ID, ImageID: images[1].ID})
	// image 3: annotated, then deleted
	anns.Create(ctx, &domain.Annotation{Type: domain.AnnotationOCR, CreatedByID: &u1.ID, ImageID: images[3].ID})
	anns.Create(ctx, &domain.Annotation{Type: domain.AnnotationOCR, ImageID: images[3].ID})
	store.Repos().Images.SoftDelete(ctx, images[3].ID, u1.ID)

	got, err := store.Repos().Stats.DatasetStats(ctx, ds.ID)
	if err != nil {
		t.Fatalf("DatasetStats() error = %v", err)
	}
	want := domain.Stats{ImageCount: 3, AnnotatedImageCount: 2, AnnotationCount: 3, PreAnnotatedImageCount: 1}
	if *got != want {
		t.Errorf("DatasetStats() = %+v, want %+v", *got, want)
	}
}

func TestStatsRepository_TaskStats(t *testing.T) {
	store, ctx := setupTestRepositories(t)
	owner := SeedUser(t, store.DB(), "owner")
	a := SeedUser(t, store.DB(), "a")
	b := SeedUser(t, store.DB(), "b")
	ds, images := SeedDataset(t, store.DB(), owner.ID, domain.DatasetObjectDetection, 3)
	repos := store.Repos()

	taskA := seedTask(t, store, ds, owner.ID, a.ID)
	taskB := seedTask(t, store, ds, owner.ID, b.ID)
	now := time.Now().UTC()
	repos.Tasks.AddImages(ctx, taskA.ID, []string{images[0].ID, images[1].ID}, now)
	repos.Tasks.AddImages(ctx, taskB.ID, []string{images[0].ID}, now)

	repos.Annotations.Create(ctx, &domain.Annotation{Type: domain.AnnotationPolygon, CreatedByID: &a.ID, ImageID: images[0].ID})
	repos.Annotations.Create(ctx, &domain.Annotation{Type: domain.AnnotationPolygon, CreatedByID: &a.ID, ImageID: images[0].ID})
	repos.Annotations.Create(ctx, &domain.Annotation{Type: domain.AnnotationPolygon, CreatedByID: &b.ID, ImageID: images[0].ID})
	repos.Annotations.Create(ctx, &domain.Annotation{Type: domain.AnnotationOCR, ImageID: images[1].ID})

	t.Run("counts only the assignee's annotations", func(t *testing.T) {
		got, err := repos.Stats.TaskStats(ctx, taskA.ID)
		if err != nil {
			t.Fatalf("TaskStats() error = %v", err)
		}
		want := domain.Stats{ImageCount: 2, AnnotatedImageCount: 1, AnnotationCount: 2, PreAnnotatedImageCount: 1}
		if *got != want {
			t.Errorf("TaskStats(A) = %+v, want %+v", *got, want)
		}

		got, _ = repos.Stats.TaskStats(ctx, taskB.ID)
		want = domain.Stats{ImageCount: 1, AnnotatedImageCount: 1, AnnotationCount: 1, PreAnnotatedImageCount: 0}
		if *got != want {
			t.Errorf("TaskStats(B) = %+v, want %+v", *got, want)
		}
	})

	t.Run("index orders", func(t *testing.T) {
		unassigned, _ := repos.Stats.UnassignedOrders(ctx, ds.ID)
		if len(unassigned) != 1 || unassigned[0] != 2 {
			t.Errorf("UnassignedOrders() = %v, want [2]", unassigned)
		}
		unannotated, _ := repos.Stats.UnannotatedOrders(ctx, ds.ID)
		if len(unannotated) != 2 || unannotated[0] != 1 || unannotated[1] != 2 {
			t.Errorf("UnannotatedOrders() = %v, want [1 2]", unannotated)
		}
	})
}

func TestDatasetRepository_Delete(t *testing.T) {
	store, ctx := setupTestRepositories(t)
	owner := SeedUser(t, store.DB(), "owner")
	ds, images := SeedDataset(t, store.DB(), owner.ID, domain.DatasetObjectDetection, 2)
	repos := store.Repos()
	repos.Labels.ReplaceForDataset(ctx, ds.ID, []*domain.Label{{Name: "cat", Color: "#ff0000"}})
	task := seedTask(t, store, ds, owner.ID, owner.ID)
	repos.Tasks.AddImages(ctx, task.ID, []string{images[0].ID}, time.Now().UTC())
	repos.Annotations.Create(ctx, &domain.Annotation{Type: domain.AnnotationRectangle, CreatedByID: &owner.ID, ImageID: images[0].ID, Points: make([]domain.Point, 4)})

	err := store.WithTx(ctx, func(r *Repositories) error {
		return r.Datasets.Delete(ctx, ds.ID)
	})
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	for _, table := range []string{"datasets", "labels", "images", "annotation_tasks", "task_on_images", "annotations", "points"} {
		var n int
		store.DB().QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n)
		if n != 0 {
			t.Errorf("%s rows = %d, want 0", table, n)
		}
	}
}
