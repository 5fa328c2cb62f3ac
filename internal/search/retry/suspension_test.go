package retry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignatureForIsOrderIndependent(t *testing.T) {
	a := signatureFor("job-1", map[string]struct{}{"table": {}, "topic": {}}, false)
	b := signatureFor("job-1", map[string]struct{}{"topic": {}, "table": {}}, false)
	assert.Equal(t, a, b)
	assert.Equal(t, "job-1|false|table,topic", a)

	assert.NotEqual(t, a, signatureFor("job-2", map[string]struct{}{"table": {}, "topic": {}}, false))
	assert.NotEqual(t, a, signatureFor("job-1", map[string]struct{}{"table": {}, "topic": {}}, true))
	assert.NotEqual(t, a, signatureFor("job-1", map[string]struct{}{"table": {}}, false))
}

func TestSuspensionScopePublishAndQuery(t *testing.T) {
	scope := newSuspensionScope()
	assert.False(t, scope.isActive())
	assert.False(t, scope.isSuspendAll())
	assert.False(t, scope.isTypeSuspended("table"))

	scope.publish("sig", map[string]struct{}{"table": {}}, false)
	assert.True(t, scope.isActive())
	assert.False(t, scope.isSuspendAll())
	assert.True(t, scope.isTypeSuspended("table"))
	assert.False(t, scope.isTypeSuspended("topic"))
	assert.Equal(t, "sig", scope.currentSignature())
}

func TestSuspensionScopeSuspendAllCoversEveryType(t *testing.T) {
	scope := newSuspensionScope()
	scope.publish("sig", map[string]struct{}{}, true)
	assert.True(t, scope.isSuspendAll())
	assert.True(t, scope.isTypeSuspended("anything"))
}

func TestSuspensionScopeClear(t *testing.T) {
	scope := newSuspensionScope()
	assert.False(t, scope.clear(), "clearing an inactive scope reports no change")

	scope.publish("sig", map[string]struct{}{"table": {}}, false)
	assert.True(t, scope.clear())
	assert.False(t, scope.isActive())
	assert.Equal(t, "", scope.currentSignature())
}
