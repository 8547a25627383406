package store

import (
	"context"
	"errors"
	"fmt"
)

// Key layout shared with the rest of the panel.
func InstanceKey(id string) string          { return id + "_instance" }
func NodeKey(id string) string              { return id + "_node" }
func UserInstancesKey(userID string) string { return userID + "_instances" }

const (
	GlobalInstancesKey = "instances"
	ImagesKey          = "images"
)

// Records gives typed access to the panel's persisted records on top of a
// raw KV.
type Records struct {
	kv KV
}

func NewRecords(kv KV) *Records {
	return &Records{kv: kv}
}

func (r *Records) Instance(ctx context.Context, id string) (Instance, error) {
	var inst Instance
	if err := r.kv.Get(ctx, InstanceKey(id), &inst); err != nil {
		return Instance{}, err
	}
	return inst, nil
}

func (r *Records) PutInstance(ctx context.Context, inst Instance) error {
	return r.kv.Set(ctx, InstanceKey(inst.ID), inst)
}

func (r *Records) Node(ctx context.Context, id string) (Node, error) {
	var n Node
	if err := r.kv.Get(ctx, NodeKey(id), &n); err != nil {
		return Node{}, err
	}
	return n, nil
}

// InstanceList reads one of the denormalized instance collections. An absent
// key is an empty list, not an error.
func (r *Records) InstanceList(ctx context.Context, key string) ([]Instance, error) {
	var list []Instance
	if err := r.kv.Get(ctx, key, &list); err != nil {
		if errors.Is(err, ErrNotFound) {
			return []Instance{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if list == nil {
		list = []Instance{}
	}
	return list, nil
}

func (r *Records) PutInstanceList(ctx context.Context, key string, list []Instance) error {
	return r.kv.Set(ctx, key, list)
}

func (r *Records) Images(ctx context.Context) ([]Image, error) {
	var images []Image
	if err := r.kv.Get(ctx, ImagesKey, &images); err != nil {
		if errors.Is(err, ErrNotFound) {
			return []Image{}, nil
		}
		return nil, err
	}
	return images, nil
}

// FindImage looks up a catalog entry by exact image reference.
func (r *Records) FindImage(ctx context.Context, ref string) (Image, bool, error) {
	images, err := r.Images(ctx)
	if err != nil {
		return Image{}, false, err
	}
	for _, img := range images {
		if img.Image == ref {
			return img, true, nil
		}
	}
	return Image{}, false, nil
}
