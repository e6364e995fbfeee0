package testutils

import (
	"sync"

	"github.com/srg/blescan/internal/device"
	"github.com/stretchr/testify/mock"
)

// FakeTransport is a scriptable device.Transport.
//
// Calls are recorded through the embedded mock.Mock, so tests can use
// AssertCalled / AssertNumberOfCalls, while the transport-side callbacks are
// driven explicitly with EmitAdvertisement, FailScan and the FakeHandle triggers:
//
//	tr := testutils.NewFakeTransport()
//	mgr := connectivity.New(tr, nil, logger)
//	require.NoError(t, mgr.Connect("AA:BB"))
//	h := tr.LastHandle()
//	h.SetState(device.StatusSuccess, device.LinkConnected)
//	h.CompleteDiscovery(device.StatusSuccess, services)
//
// AutoRespond switches every following handle to a peripheral that answers
// on its own goroutine, for tests driving whole flows end to end.
type FakeTransport struct {
	mock.Mock

	mu         sync.Mutex
	ready      bool
	scanErr    error
	connectErr error
	scanning   bool
	filter     *device.ScanFilter
	onResult   func(device.Advertisement)
	onFailure  func(code int)
	handles    []*FakeHandle
	profile    []device.ServiceInfo
	auto       bool
	notes      []notification
	ads        []device.Advertisement
}

type notification struct {
	uuid  string
	value []byte
}

// NewFakeTransport creates a ready FakeTransport that accepts every request.
func NewFakeTransport() *FakeTransport {
	f := &FakeTransport{ready: true}
	f.On("StartScan", mock.Anything).Return().Maybe()
	f.On("StopScan").Return().Maybe()
	f.On("Connect", mock.Anything).Return().Maybe()
	return f
}

// SetReady controls the value reported by Ready.
func (f *FakeTransport) SetReady(ready bool) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = ready
	return f
}

// RejectScan makes every following StartScan return err. Pass nil to accept again.
func (f *FakeTransport) RejectScan(err error) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanErr = err
	return f
}

// RejectConnect makes every following Connect return err. Pass nil to accept again.
func (f *FakeTransport) RejectConnect(err error) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
	return f
}

// AutoAdvertise makes every following StartScan deliver advs, in order, from
// its own goroutine.
func (f *FakeTransport) AutoAdvertise(advs ...device.Advertisement) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ads = append(f.ads, advs...)
	return f
}

// AutoNotify queues notifications that auto-responding handles emit for uuid
// right after service discovery completes.
func (f *FakeTransport) AutoNotify(uuid string, values ...[]byte) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		f.notes = append(f.notes, notification{uuid: uuid, value: v})
	}
	return f
}

// AutoRespond makes handles created from now on connect, discover profile,
// answer reads with the profile values and disconnect without test involvement.
func (f *FakeTransport) AutoRespond(profile []device.ServiceInfo) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auto = true
	f.profile = profile
	return f
}

func (f *FakeTransport) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *FakeTransport) StartScan(filter *device.ScanFilter, onResult func(device.Advertisement), onFailure func(code int)) error {
	f.Called(filter)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scanErr != nil {
		return f.scanErr
	}
	f.scanning = true
	f.filter = filter
	f.onResult = onResult
	f.onFailure = onFailure
	if len(f.ads) > 0 {
		ads := append([]device.Advertisement(nil), f.ads...)
		go func() {
			for _, adv := range ads {
				onResult(adv)
			}
		}()
	}
	return nil
}

func (f *FakeTransport) StopScan() {
	f.Called()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanning = false
}

func (f *FakeTransport) Connect(address string, cb device.HandleCallbacks) (device.Handle, error) {
	f.Called(address)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	h := newFakeHandle(address, cb)
	f.handles = append(f.handles, h)
	if f.auto {
		h.profile = f.profile
		h.notes = append([]notification(nil), f.notes...)
		h.auto = true
		go h.SetState(device.StatusSuccess, device.LinkConnected)
	}
	return h, nil
}

// Scanning reports whether a transport scan is running.
func (f *FakeTransport) Scanning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanning
}

// LastFilter returns the filter passed to the most recent StartScan.
func (f *FakeTransport) LastFilter() *device.ScanFilter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter
}

// EmitAdvertisement delivers adv through the result callback of the last started scan,
// even if the scan was stopped since. Returns false if no scan was ever started.
func (f *FakeTransport) EmitAdvertisement(adv device.Advertisement) bool {
	f.mu.Lock()
	cb := f.onResult
	f.mu.Unlock()

	if cb == nil {
		return false
	}
	cb(adv)
	return true
}

// FailScan delivers a scan failure through the failure callback of the last started scan.
func (f *FakeTransport) FailScan(code int) bool {
	f.mu.Lock()
	cb := f.onFailure
	f.scanning = false
	f.mu.Unlock()

	if cb == nil {
		return false
	}
	cb(code)
	return true
}

// Handles returns every handle created by Connect, oldest first.
func (f *FakeTransport) Handles() []*FakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeHandle(nil), f.handles...)
}

// LastHandle returns the most recently created handle, or nil.
func (f *FakeTransport) LastHandle() *FakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handles) == 0 {
		return nil
	}
	return f.handles[len(f.handles)-1]
}

// FakeHandle is the device.Handle produced by FakeTransport.Connect.
type FakeHandle struct {
	mock.Mock

	Address string

	mu             sync.Mutex
	cb             device.HandleCallbacks
	refuseDiscover bool
	refuseRead     bool
	released       bool
	discovered     bool
	onDiscovered   func(status int, services []device.ServiceInfo)
	pendingReads   map[string][]func(status int, ch device.CharacteristicInfo)
	profile        []device.ServiceInfo
	notes          []notification
	auto           bool
}

func newFakeHandle(address string, cb device.HandleCallbacks) *FakeHandle {
	h := &FakeHandle{
		Address:      address,
		cb:           cb,
		pendingReads: make(map[string][]func(status int, ch device.CharacteristicInfo)),
	}
	h.On("DiscoverServices").Return().Maybe()
	h.On("ReadCharacteristic", mock.Anything).Return().Maybe()
	h.On("Disconnect").Return().Maybe()
	h.On("Release").Return().Maybe()
	return h
}

// RefuseDiscovery makes DiscoverServices report a submission failure.
func (h *FakeHandle) RefuseDiscovery() *FakeHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refuseDiscover = true
	return h
}

// RefuseReads makes ReadCharacteristic report a submission failure.
func (h *FakeHandle) RefuseReads() *FakeHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refuseRead = true
	return h
}

func (h *FakeHandle) DiscoverServices(onComplete func(status int, services []device.ServiceInfo)) bool {
	h.Called()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refuseDiscover {
		return false
	}
	h.onDiscovered = onComplete
	if h.auto {
		profile, notes := withoutValues(h.profile), h.notes
		go func() {
			h.CompleteDiscovery(device.StatusSuccess, profile)
			for _, n := range notes {
				h.Notify(n.uuid, n.value)
			}
		}()
	}
	return true
}

func (h *FakeHandle) ReadCharacteristic(uuid string, onComplete func(status int, ch device.CharacteristicInfo)) bool {
	h.Called(uuid)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refuseRead {
		return false
	}
	h.pendingReads[uuid] = append(h.pendingReads[uuid], onComplete)
	if h.auto {
		value := h.profileValue(uuid)
		go h.CompleteRead(uuid, device.StatusSuccess, value)
	}
	return true
}

// withoutValues copies profile with every characteristic value dropped, the
// way a peripheral reports its tree at discovery. The values stay in the
// handle profile to answer reads.
func withoutValues(profile []device.ServiceInfo) []device.ServiceInfo {
	out := make([]device.ServiceInfo, len(profile))
	for i, svc := range profile {
		out[i] = device.ServiceInfo{UUID: svc.UUID}
		for _, ch := range svc.Characteristics {
			ch.Value = nil
			out[i].Characteristics = append(out[i].Characteristics, ch)
		}
	}
	return out
}

func (h *FakeHandle) profileValue(uuid string) []byte {
	for _, svc := range h.profile {
		for _, ch := range svc.Characteristics {
			if device.NormalizeUUID(ch.UUID) == device.NormalizeUUID(uuid) {
				return ch.Value
			}
		}
	}
	return nil
}

func (h *FakeHandle) Disconnect() {
	h.Called()

	h.mu.Lock()
	auto := h.auto
	h.mu.Unlock()
	if auto {
		go h.SetState(device.StatusSuccess, device.LinkDisconnected)
	}
}

func (h *FakeHandle) Release() {
	h.Called()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = true
}

// Released reports whether Release was called.
func (h *FakeHandle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// SetState fires the connection-state callback.
func (h *FakeHandle) SetState(status int, state device.LinkState) {
	h.mu.Lock()
	cb := h.cb.OnStateChange
	h.mu.Unlock()

	if cb != nil {
		cb(status, state)
	}
}

// CompleteDiscovery fires the pending discovery callback.
// Returns false if DiscoverServices was not called.
func (h *FakeHandle) CompleteDiscovery(status int, services []device.ServiceInfo) bool {
	h.mu.Lock()
	cb := h.onDiscovered
	h.onDiscovered = nil
	h.mu.Unlock()

	if cb == nil {
		return false
	}
	cb(status, services)

	h.mu.Lock()
	h.discovered = true
	h.mu.Unlock()
	return true
}

// Discovered reports whether a discovery callback has been fired.
func (h *FakeHandle) Discovered() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.discovered
}

// PendingReads returns the number of reads submitted for uuid and not yet completed.
func (h *FakeHandle) PendingReads(uuid string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pendingReads[uuid])
}

// CompleteRead fires the oldest pending read callback for uuid.
// The reported characteristic carries the uuid as requested, which lets tests
// exercise case and short/long form mismatches. Returns false if nothing is pending.
func (h *FakeHandle) CompleteRead(uuid string, status int, value []byte) bool {
	h.mu.Lock()
	queue := h.pendingReads[uuid]
	if len(queue) == 0 {
		h.mu.Unlock()
		return false
	}
	cb := queue[0]
	h.pendingReads[uuid] = queue[1:]
	h.mu.Unlock()

	cb(status, device.CharacteristicInfo{UUID: uuid, Value: value})
	return true
}

// Notify fires the characteristic-changed callback.
func (h *FakeHandle) Notify(uuid string, value []byte) {
	h.mu.Lock()
	cb := h.cb.OnCharacteristicChanged
	h.mu.Unlock()

	if cb != nil {
		cb(device.CharacteristicInfo{UUID: uuid, Value: value})
	}
}
