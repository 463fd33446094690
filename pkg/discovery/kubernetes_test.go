package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/polyrun/polyrun/pkg/errs"
)

func runtimeService(name, kind string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "runtimes",
			Labels: map[string]string{
				"component": "runtime",
				"runtime":   kind,
			},
		},
	}
}

func newTestClient(t *testing.T, objs ...*corev1.Service) *Client {
	t.Helper()

	clientset := fake.NewSimpleClientset()
	for _, svc := range objs {
		_, err := clientset.CoreV1().Services("runtimes").Create(context.Background(), svc, metav1.CreateOptions{})
		require.NoError(t, err)
	}
	return NewClientFromClientset(clientset, "runtimes", time.Minute)
}

func TestServices(t *testing.T) {
	c := newTestClient(t,
		runtimeService("nodejs", "nodejs"),
		runtimeService("python-ml", "python"),
		runtimeService("rust-wasm", "rust"),
	)

	services, err := c.Services(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"nodejs":    "nodejs",
		"python-ml": "python",
		"rust-wasm": "rust",
	}, services)
}

func TestServices_IgnoresUnknownRuntimeLabel(t *testing.T) {
	c := newTestClient(t,
		runtimeService("nodejs", "nodejs"),
		runtimeService("ruby", "ruby"),
	)

	services, err := c.Services(context.Background())
	require.NoError(t, err)
	assert.Len(t, services, 1)
	assert.Equal(t, "nodejs", services["nodejs"])
}

func TestServices_CacheAvoidsRelist(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	_, err := clientset.CoreV1().Services("runtimes").Create(context.Background(), runtimeService("nodejs", "nodejs"), metav1.CreateOptions{})
	require.NoError(t, err)

	c := NewClientFromClientset(clientset, "runtimes", time.Minute)

	_, err = c.Services(context.Background())
	require.NoError(t, err)

	// A service added after the first list is invisible until the TTL lapses.
	_, err = clientset.CoreV1().Services("runtimes").Create(context.Background(), runtimeService("python", "python"), metav1.CreateOptions{})
	require.NoError(t, err)

	services, err := c.Services(context.Background())
	require.NoError(t, err)
	assert.Len(t, services, 1)

	c.mu.Lock()
	c.cache.lastUpdated = time.Now().Add(-2 * time.Minute)
	c.mu.Unlock()

	services, err = c.Services(context.Background())
	require.NoError(t, err)
	assert.Len(t, services, 2)
}

func TestKindForLanguage_ExactMatch(t *testing.T) {
	c := newTestClient(t, runtimeService("python-ml", "python"))

	kind, err := c.KindForLanguage(context.Background(), "python-ml")
	require.NoError(t, err)
	assert.Equal(t, "python", kind)
}

func TestKindForLanguage_PrefixMatch(t *testing.T) {
	c := newTestClient(t, runtimeService("rust-wasm", "rust"))

	kind, err := c.KindForLanguage(context.Background(), "rust-wasm-factorial")
	require.NoError(t, err)
	assert.Equal(t, "rust", kind)
}

func TestKindForLanguage_KeywordMatch(t *testing.T) {
	c := newTestClient(t)

	tests := []struct {
		title string
		want  string
	}{
		{"my-javascript-fn", "nodejs"},
		{"numpy-analyzer", "python"},
		{"parse-rs", "rust"},
	}
	for _, tt := range tests {
		kind, err := c.KindForLanguage(context.Background(), tt.title)
		require.NoError(t, err, tt.title)
		assert.Equal(t, tt.want, kind, tt.title)
	}
}

func TestKindForLanguage_NoMatch(t *testing.T) {
	c := newTestClient(t)

	_, err := c.KindForLanguage(context.Background(), "cobol-batch")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindBadRequest))
}
