package redeploy

import (
	"context"
	"strconv"
	"strings"

	"github.com/skyportlabs/panel/internal/node"
	"github.com/skyportlabs/panel/internal/store"
)

// ImageCatalog is the catalog lookup the payload builder needs.
type ImageCatalog interface {
	FindImage(ctx context.Context, ref string) (store.Image, bool, error)
}

// BuildPayload assembles the node agent's redeploy body from the validated
// request, the short image name extracted from the image query value, and the
// instance's existing environment. The catalog entry must exist here; the
// persistence path later tolerates its absence.
func BuildPayload(ctx context.Context, catalog ImageCatalog, imageName string, req Request, env []string) (node.RedeployPayload, *Error) {
	img, ok, err := catalog.FindImage(ctx, imageName)
	if err != nil {
		return node.RedeployPayload{}, &Error{Kind: KindPersistenceError, Message: "image catalog read failed", Err: err}
	}
	if !ok {
		return node.RedeployPayload{}, failf(KindImageNotFound, "image %q not found in catalog", imageName)
	}

	if env == nil {
		env = []string{}
	}
	scripts := img.Scripts
	if scripts == nil {
		scripts = []string{}
	}
	altImages := img.AltImages
	if altImages == nil {
		altImages = []string{}
	}

	payload := node.RedeployPayload{
		Name:         req.Name,
		ID:           req.InstanceID,
		Image:        imageName,
		Env:          env,
		Scripts:      scripts,
		Memory:       req.Memory,
		CPU:          req.CPU,
		ExposedPorts: map[string]struct{}{},
		PortBindings: map[string][]node.PortBinding{},
		AltImages:    altImages,
		Labels: map[string]string{
			"skyport.managed":  "true",
			"skyport.instance": req.InstanceID,
		},
	}

	for _, entry := range strings.Split(req.Ports, ",") {
		hostPort, containerPort, found := strings.Cut(entry, ":")
		if !found {
			return node.RedeployPayload{}, failf(KindInvalidPortMapping, "port mapping %q must be host:container", entry)
		}
		if hostPort == "" || !isInt(hostPort) {
			return node.RedeployPayload{}, failf(KindInvalidPortMapping, "invalid host port %q in mapping %q", hostPort, entry)
		}
		if containerPort == "" || !isInt(containerPort) {
			return node.RedeployPayload{}, failf(KindInvalidPortMapping, "invalid container port %q in mapping %q", containerPort, entry)
		}
		key := containerPort + "/tcp"
		payload.ExposedPorts[key] = struct{}{}
		payload.PortBindings[key] = []node.PortBinding{{HostPort: hostPort}}
	}

	return payload, nil
}

func isInt(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}
