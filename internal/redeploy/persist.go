package redeploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skyportlabs/panel/internal/store"
)

// Updater reconciles the three denormalized views of one instance: the
// per-user list, the global list, and the authoritative single record. The
// store has no cross-key transactions, so every Apply ends with a
// verification read-back of all three keys.
type Updater struct {
	recs *store.Records
}

func NewUpdater(recs *store.Records) *Updater {
	return &Updater{recs: recs}
}

// ApplyInput is everything needed to stamp out the replacement record.
type ApplyInput struct {
	InstanceID  string
	UserID      string
	Name        string
	Node        store.Node
	Image       string
	Memory      int
	CPU         int
	Ports       string
	Primary     string
	Env         []string
	ImageData   json.RawMessage
	ContainerID string
	VolumeID    string
}

// Apply writes the new instance record into all three views and verifies the
// writes landed. A missing catalog entry is tolerated here (empty alt-image
// list): the container already exists on the node, so a stale catalog must
// not strand it.
func (u *Updater) Apply(ctx context.Context, in ApplyInput) error {
	altImages := []string{}
	if img, ok, err := u.recs.FindImage(ctx, in.Image); err != nil {
		return fmt.Errorf("image catalog read: %w", err)
	} else if ok && img.AltImages != nil {
		altImages = img.AltImages
	}

	env := in.Env
	if env == nil {
		env = []string{}
	}
	inst := store.Instance{
		ID:          in.InstanceID,
		Name:        in.Name,
		User:        in.UserID,
		Node:        in.Node,
		ContainerID: in.ContainerID,
		VolumeID:    in.VolumeID,
		Memory:      in.Memory,
		CPU:         in.CPU,
		Ports:       in.Ports,
		Primary:     in.Primary,
		Env:         env,
		Image:       in.Image,
		AltImages:   altImages,
		ImageData:   in.ImageData,
		LastUpdated: time.Now().UTC(),
	}

	userKey := store.UserInstancesKey(in.UserID)

	// The two list reads target disjoint keys and can run together.
	var userList, globalList []store.Instance
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		userList, err = u.recs.InstanceList(gctx, userKey)
		return err
	})
	g.Go(func() error {
		var err error
		globalList, err = u.recs.InstanceList(gctx, store.GlobalInstancesKey)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("read instance lists: %w", err)
	}

	userList = replaceByID(userList, inst)
	globalList = replaceByID(globalList, inst)

	if err := u.recs.PutInstanceList(ctx, userKey, userList); err != nil {
		return fmt.Errorf("write user instance list: %w", err)
	}
	if err := u.recs.PutInstanceList(ctx, store.GlobalInstancesKey, globalList); err != nil {
		return fmt.Errorf("write global instance list: %w", err)
	}
	if err := u.recs.PutInstance(ctx, inst); err != nil {
		return fmt.Errorf("write instance record: %w", err)
	}

	return u.verify(ctx, in.InstanceID, userKey)
}

// verify re-reads all three keys and fails if any view lost the update. This
// guards against a store that silently dropped a write.
func (u *Updater) verify(ctx context.Context, instanceID, userKey string) error {
	userList, err := u.recs.InstanceList(ctx, userKey)
	if err != nil {
		return fmt.Errorf("verify user list: %w", err)
	}
	if !containsID(userList, instanceID) {
		return fmt.Errorf("%w: instance %s missing from user list", ErrVerificationFailed, instanceID)
	}

	globalList, err := u.recs.InstanceList(ctx, store.GlobalInstancesKey)
	if err != nil {
		return fmt.Errorf("verify global list: %w", err)
	}
	if !containsID(globalList, instanceID) {
		return fmt.Errorf("%w: instance %s missing from global list", ErrVerificationFailed, instanceID)
	}

	rec, err := u.recs.Instance(ctx, instanceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: instance record %s absent", ErrVerificationFailed, instanceID)
		}
		return fmt.Errorf("verify instance record: %w", err)
	}
	if rec.ID == "" {
		return fmt.Errorf("%w: instance record %s empty", ErrVerificationFailed, instanceID)
	}
	return nil
}

// replaceByID drops any prior entry with the same id before appending, so
// repeated redeploys never duplicate within a view.
func replaceByID(list []store.Instance, inst store.Instance) []store.Instance {
	out := make([]store.Instance, 0, len(list)+1)
	for _, existing := range list {
		if existing.ID != inst.ID {
			out = append(out, existing)
		}
	}
	return append(out, inst)
}

func containsID(list []store.Instance, id string) bool {
	for _, inst := range list {
		if inst.ID == id {
			return true
		}
	}
	return false
}
