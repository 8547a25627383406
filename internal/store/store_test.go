package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestBadgerRoundTrip(t *testing.T) {
	kv, err := NewBadgerKV(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	defer kv.Close()

	ctx := context.Background()
	recs := NewRecords(kv)

	inst := Instance{ID: "i1", Name: "web", User: "u1", ContainerID: "c1", Memory: 512, CPU: 1, LastUpdated: time.Now().UTC()}
	if err := recs.PutInstance(ctx, inst); err != nil {
		t.Fatalf("put instance: %v", err)
	}
	got, err := recs.Instance(ctx, "i1")
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	if got.ContainerID != "c1" || got.Memory != 512 {
		t.Fatalf("unexpected record: %+v", got)
	}

	if _, err := recs.Instance(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInstanceListDefaultsEmpty(t *testing.T) {
	recs := NewRecords(NewMemKV())
	ctx := context.Background()

	list, err := recs.InstanceList(ctx, UserInstancesKey("u1"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d entries", len(list))
	}

	if err := recs.PutInstanceList(ctx, GlobalInstancesKey, []Instance{{ID: "i1"}}); err != nil {
		t.Fatalf("put list: %v", err)
	}
	list, err = recs.InstanceList(ctx, GlobalInstancesKey)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "i1" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestFindImage(t *testing.T) {
	kv := NewMemKV()
	recs := NewRecords(kv)
	ctx := context.Background()

	if _, ok, err := recs.FindImage(ctx, "nginx:latest"); err != nil || ok {
		t.Fatalf("expected miss on empty catalog, ok=%v err=%v", ok, err)
	}

	catalog := []Image{
		{Image: "nginx:latest", Scripts: []string{"setup.sh"}, AltImages: []string{"nginx:stable"}},
		{Image: "redis:7"},
	}
	if err := kv.Set(ctx, ImagesKey, catalog); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}

	img, ok, err := recs.FindImage(ctx, "nginx:latest")
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if len(img.AltImages) != 1 || img.AltImages[0] != "nginx:stable" {
		t.Fatalf("unexpected image: %+v", img)
	}
}
