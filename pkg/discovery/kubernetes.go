// Package discovery resolves runtime kinds from cluster services. The
// client lists services labelled component=runtime in one namespace and
// caches the service-name to kind map with a TTL.
package discovery

import (
	"context"
	"strings"
	"sync"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/polyrun/polyrun/pkg/errs"
)

const (
	componentLabel = "component=runtime"
	runtimeLabel   = "runtime"
)

// serviceCache holds the discovered service-name to runtime-kind map.
type serviceCache struct {
	services    map[string]string
	lastUpdated time.Time
}

func (c *serviceCache) stale(ttl time.Duration) bool {
	return c.services == nil || time.Since(c.lastUpdated) > ttl
}

// Client discovers runtime services through the Kubernetes API.
type Client struct {
	clientset kubernetes.Interface
	namespace string
	ttl       time.Duration

	mu    sync.RWMutex
	cache serviceCache
}

// NewClient builds a discovery client from in-cluster configuration.
func NewClient(namespace string, ttl time.Duration) (*Client, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, err, "failed to load in-cluster config")
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, err, "failed to create kubernetes client")
	}
	return NewClientFromClientset(clientset, namespace, ttl), nil
}

// NewClientFromClientset wraps an existing clientset (useful for testing).
func NewClientFromClientset(clientset kubernetes.Interface, namespace string, ttl time.Duration) *Client {
	return &Client{
		clientset: clientset,
		namespace: namespace,
		ttl:       ttl,
	}
}

// Services returns the service-name to runtime-kind map, refreshing the
// cache when stale.
func (c *Client) Services(ctx context.Context) (map[string]string, error) {
	c.mu.RLock()
	if !c.cache.stale(c.ttl) {
		services := c.cache.services
		c.mu.RUnlock()
		return services, nil
	}
	c.mu.RUnlock()

	list, err := c.clientset.CoreV1().Services(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: componentLabel,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindRuntime, err, "failed to list runtime services in %s", c.namespace)
	}

	services := make(map[string]string, len(list.Items))
	for _, svc := range list.Items {
		kind := svc.Labels[runtimeLabel]
		switch kind {
		case "nodejs", "python", "rust":
			services[svc.Name] = kind
		}
	}

	c.mu.Lock()
	c.cache = serviceCache{services: services, lastUpdated: time.Now()}
	c.mu.Unlock()

	return services, nil
}

// KindForLanguage maps a language title to a runtime kind. Lookup order:
// exact service match, service-prefix match, then keyword match.
func (c *Client) KindForLanguage(ctx context.Context, languageTitle string) (string, error) {
	services, err := c.Services(ctx)
	if err != nil {
		return "", err
	}

	if kind, ok := services[languageTitle]; ok {
		return kind, nil
	}

	for name, kind := range services {
		if strings.HasPrefix(languageTitle, name+"-") {
			return kind, nil
		}
	}

	if kind, ok := keywordKind(languageTitle); ok {
		return kind, nil
	}

	return "", errs.New(errs.KindBadRequest, "No runtime found for language title: %s", languageTitle)
}

func keywordKind(languageTitle string) (string, bool) {
	switch {
	case containsAny(languageTitle, "nodejs", "node", "javascript", "js"):
		return "nodejs", true
	case containsAny(languageTitle, "python", "py"):
		return "python", true
	case containsAny(languageTitle, "rust", "rs"):
		return "rust", true
	default:
		return "", false
	}
}

func containsAny(s string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
