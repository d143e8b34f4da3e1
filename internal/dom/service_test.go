// internal/dom/service_test.go
package dom

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/cdp"
	cdpdom "github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/domsnapshot"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	jsonv2 "github.com/go-json-experiment/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/domlens/internal/browser/session"
)

// fakeExecutor serves canned protocol responses keyed by method name. Enable
// calls and other methods without a canned payload succeed with an empty
// result.
type fakeExecutor struct {
	mu        sync.Mutex
	responses map[string]string
	calls     []string
}

var _ session.PageHandle = (*fakeExecutor)(nil)

func (f *fakeExecutor) Execute(ctx context.Context, method string, params, res any) error {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	payload, ok := f.responses[method]
	f.mu.Unlock()

	if res == nil {
		return nil
	}
	if !ok {
		return fmt.Errorf("no canned response for %s", method)
	}
	return jsonv2.Unmarshal([]byte(payload), res)
}

func (f *fakeExecutor) TargetID() target.ID         { return "TARGET-1" }
func (f *fakeExecutor) SessionID() target.SessionID { return "SESSION-1" }
func (f *fakeExecutor) Listen(func(ev interface{})) {}

// canned protocol bundle: one frame, html > body > button "Go now".
// Style rows follow the default requested property order.
func cannedResponses() map[string]string {
	return map[string]string{
		domsnapshot.CommandCaptureSnapshot: `{
			"documents": [{
				"documentURL": 0, "title": 1, "baseURL": 0, "frameId": 2,
				"nodes": {
					"backendNodeId": [1, 2, 3, 4, 5],
					"isClickable": {"index": [3]}
				},
				"layout": {
					"nodeIndex": [1, 3],
					"styles": [[3, 4, 5, 6, 6, 8, 6, 4], [3, 4, 5, 6, 7, 8, 6, 4]],
					"bounds": [[0, 0, 1280, 2000], [10, 10, 100, 30]],
					"scrollRects": [[0, 0, 1280, 2000], [0, 0, 0, 0]],
					"clientRects": [[0, 0, 1280, 720], [10, 10, 100, 30]],
					"paintOrders": [1, 2]
				}
			}],
			"strings": ["https://example.com/", "Example", "F1", "block", "visible", "1", "auto", "pointer", "static"]
		}`,
		cdpdom.CommandGetDocument: `{
			"root": {
				"nodeId": 1, "backendNodeId": 1, "nodeType": 9, "nodeName": "#document",
				"frameId": "F1",
				"children": [{
					"nodeId": 2, "backendNodeId": 2, "nodeType": 1, "nodeName": "HTML",
					"frameId": "F1",
					"children": [{
						"nodeId": 3, "backendNodeId": 3, "nodeType": 1, "nodeName": "BODY",
						"children": [{
							"nodeId": 4, "backendNodeId": 4, "nodeType": 1, "nodeName": "BUTTON",
							"attributes": ["type", "submit"],
							"children": [{
								"nodeId": 5, "backendNodeId": 5, "nodeType": 3,
								"nodeName": "#text", "nodeValue": "Go now"
							}]
						}]
					}]
				}]
			}
		}`,
		cdppage.CommandGetLayoutMetrics: `{
			"layoutViewport": {"pageX": 0, "pageY": 0, "clientWidth": 1280, "clientHeight": 720},
			"visualViewport": {"offsetX": 0, "offsetY": 0, "pageX": 0, "pageY": 0, "clientWidth": 1280, "clientHeight": 720, "scale": 1, "zoom": 1},
			"contentSize": {"x": 0, "y": 0, "width": 1280, "height": 2000},
			"cssLayoutViewport": {"pageX": 0, "pageY": 0, "clientWidth": 1280, "clientHeight": 720},
			"cssVisualViewport": {"offsetX": 0, "offsetY": 0, "pageX": 0, "pageY": 0, "clientWidth": 1280, "clientHeight": 720, "scale": 1, "zoom": 1},
			"cssContentSize": {"x": 0, "y": 0, "width": 1280, "height": 2000}
		}`,
		cdppage.CommandGetFrameTree: `{
			"frameTree": {
				"frame": {
					"id": "F1", "loaderId": "L1", "url": "https://example.com/",
					"domainAndRegistry": "example.com", "securityOrigin": "https://example.com",
					"mimeType": "text/html", "secureContextType": "Secure",
					"crossOriginIsolatedContextType": "NotIsolated", "gatedAPIFeatures": []
				}
			}
		}`,
		accessibility.CommandGetFullAXTree: `{
			"nodes": [{
				"nodeId": "10", "ignored": false,
				"role": {"type": "role", "value": "button"},
				"name": {"type": "computedString", "value": "Go now"},
				"properties": [{"name": "focusable", "value": {"type": "booleanOrUndefined", "value": true}}],
				"backendDOMNodeId": 4, "childIds": []
			}]
		}`,
	}
}

func newTestService(t *testing.T) (*Service, *session.Cache) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cache := session.NewCache(logger)
	return NewService(testCfg(), logger, cache, nil), cache
}

func TestCapturePageState(t *testing.T) {
	svc, _ := newTestService(t)
	fake := &fakeExecutor{responses: cannedResponses()}

	snapshot, state, err := svc.CapturePageState(context.Background(), fake, nil)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	require.NotNil(t, state)

	assert.NotEmpty(t, snapshot.StepID)
	assert.Equal(t, "https://example.com/", snapshot.URL)
	assert.Equal(t, "Example", snapshot.Title)
	assert.Equal(t, "https://example.com/", state.URL)

	require.Len(t, snapshot.Elements, 1)
	el := snapshot.Elements[0]
	assert.Equal(t, 1, el.Index)
	assert.Equal(t, "button", el.Tag)
	assert.Equal(t, "Go now", el.Text)
	assert.False(t, el.IsNew, "first contact has no baseline")

	assert.Contains(t, snapshot.ElementTree, "[1]<button type=submit>Go now />")
	assert.Positive(t, snapshot.Stats.NodesVisited)
	assert.Contains(t, snapshot.Timings, "acquire_ms")
	assert.Contains(t, snapshot.Timings, "serialize_ms")

	require.Len(t, state.SelectorMap, 1)
	assert.Equal(t, "button", state.SelectorMap[1].Tag)

	// The product carries the index map and the filtered tree root itself.
	require.NotNil(t, snapshot.DOMTree)
	require.Len(t, snapshot.SelectorMap, 1)
	assert.Equal(t, "button", snapshot.SelectorMap[1].Tag)
	assert.Equal(t, cdp.BackendNodeID(4), snapshot.SelectorMap[1].BackendID)
}

func TestCapturePageStateEnablesDomainsOnce(t *testing.T) {
	svc, _ := newTestService(t)
	fake := &fakeExecutor{responses: cannedResponses()}
	ctx := context.Background()

	_, state, err := svc.CapturePageState(ctx, fake, nil)
	require.NoError(t, err)
	_, _, err = svc.CapturePageState(ctx, fake, state)
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	enables := 0
	for _, m := range fake.calls {
		if m == "DOM.enable" {
			enables++
		}
	}
	assert.Equal(t, 1, enables, "domain enables are cached per target")
}

func TestCapturePageStateUnchangedPageFlagsNothingNew(t *testing.T) {
	svc, _ := newTestService(t)
	fake := &fakeExecutor{responses: cannedResponses()}
	ctx := context.Background()

	_, state1, err := svc.CapturePageState(ctx, fake, nil)
	require.NoError(t, err)
	snapshot2, _, err := svc.CapturePageState(ctx, fake, state1)
	require.NoError(t, err)

	require.Len(t, snapshot2.Elements, 1)
	assert.False(t, snapshot2.Elements[0].IsNew)
	assert.NotContains(t, snapshot2.ElementTree, "*[1]")
}

func TestCapturePageStateNavigationFlagsNothingNew(t *testing.T) {
	svc, _ := newTestService(t)
	fake := &fakeExecutor{responses: cannedResponses()}
	ctx := context.Background()

	_, state1, err := svc.CapturePageState(ctx, fake, nil)
	require.NoError(t, err)

	// Same backend IDs, different document URL: the baseline must not apply.
	moved := cannedResponses()
	moved[domsnapshot.CommandCaptureSnapshot] = strings.ReplaceAll(
		moved[domsnapshot.CommandCaptureSnapshot],
		"https://example.com/", "https://example.com/checkout")
	fake.mu.Lock()
	fake.responses = moved
	fake.mu.Unlock()

	snapshot2, state2, err := svc.CapturePageState(ctx, fake, state1)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/checkout", snapshot2.URL)
	require.Len(t, snapshot2.Elements, 1)
	assert.False(t, snapshot2.Elements[0].IsNew, "navigation resets the diff baseline")
	assert.NotContains(t, snapshot2.ElementTree, "*[1]")
	assert.Equal(t, "https://example.com/checkout", state2.URL)
}

func TestCapturePageStateRecordsEntryState(t *testing.T) {
	svc, cache := newTestService(t)
	fake := &fakeExecutor{responses: cannedResponses()}
	ctx := context.Background()

	_, _, err := svc.CapturePageState(ctx, fake, nil)
	require.NoError(t, err)

	entry, err := cache.GetOrCreate(ctx, fake)
	require.NoError(t, err)
	assert.Equal(t, 5, entry.LastNodeCount())
	w, h := entry.Viewport()
	assert.Equal(t, int64(1280), w)
	assert.Equal(t, int64(720), h)
}
