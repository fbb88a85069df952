package simulator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/hmsim/internal/catalog"
	"github.com/thatsimonsguy/hmsim/internal/model"
	"github.com/thatsimonsguy/hmsim/internal/registry"
	"github.com/thatsimonsguy/hmsim/internal/rpc"
	"github.com/thatsimonsguy/hmsim/internal/rpc/rpctest"
)

const (
	rfURL    = "xmlrpc_bin://127.0.0.1:2001"
	rfKey    = "127.0.0.1:2001"
	ipURL    = "http://127.0.0.1:2010/RPC2"
	ipKey    = "127.0.0.1:2010"
	switchCh = "JEQ0000001:1"
)

func newTestSimulator(t *testing.T) (*Simulator, *rpctest.Dialer) {
	t.Helper()
	cat, err := catalog.Load(map[model.Interface]string{
		model.InterfaceRF: "../../data/devices-rfd.json",
		model.InterfaceIP: "../../data/devices-hmip.json",
	}, "../../data/paramset-descriptions.json")
	require.NoError(t, err)

	d := &rpctest.Dialer{}
	dial := func(host, port, path string) rpc.Caller { return d.Dial(host, port, path) }
	reg := registry.New(map[rpc.Protocol]registry.Dialer{rpc.ProtocolXML: dial, rpc.ProtocolBinary: dial})

	s := New(cat, reg)
	t.Cleanup(s.Close)
	return s, d
}

func waitForCalls(t *testing.T, c *rpctest.Caller, n int) []rpctest.Call {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.Calls()) >= n }, time.Second, 5*time.Millisecond)
	return c.Calls()
}

func TestSeededDefaults(t *testing.T) {
	s, _ := newTestSimulator(t)

	v, err := s.GetValue(model.InterfaceRF, switchCh, "STATE")
	require.NoError(t, err)
	assert.Equal(t, false, v)

	v, err = s.GetValue(model.InterfaceRF, "JEQ0000002:1", "STATE")
	require.NoError(t, err)
	assert.Equal(t, 0, v, "ENUM default resolves to its index")

	v, err = s.GetValue(model.InterfaceIP, "000A18A9A64DAC:2", "PROCESS")
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	_, err = s.GetValue(model.InterfaceRF, "JEQ0000001", "STATE")
	assert.ErrorIs(t, err, ErrUnknownDatapoint)

	_, err = s.GetValue(model.InterfaceRF, "NOPE", "STATE")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestRegisterReconcilesAndSetValueEmits(t *testing.T) {
	s, d := newTestSimulator(t)

	require.NoError(t, s.Register(model.InterfaceRF, rfURL, "client"))
	c := d.Last(rfKey)
	require.NotNil(t, c)

	calls := waitForCalls(t, c, 2)
	assert.Equal(t, "listDevices", calls[0].Method)
	assert.Equal(t, "newDevices", calls[1].Method)
	published := calls[1].Params[1].([]any)
	assert.Len(t, published, len(s.ListDevices(model.InterfaceRF)))
	assert.Equal(t, "JEQ0000001", published[0].(map[string]any)["ADDRESS"])

	require.NoError(t, s.SetValue(model.InterfaceRF, switchCh, "STATE", true))

	calls = waitForCalls(t, c, 3)
	require.Len(t, calls, 3)
	assert.Equal(t, "system.multicall", calls[2].Method)
	assert.Equal(t, []any{rpc.Multicall([]rpc.Request{
		{Method: "event", Params: []any{"client", switchCh, "INHIBIT", false}},
		{Method: "event", Params: []any{"client", switchCh, "INSTALL_TEST", false}},
		{Method: "event", Params: []any{"client", switchCh, "ON_TIME", 0.0}},
		{Method: "event", Params: []any{"client", switchCh, "STATE", true}},
		{Method: "event", Params: []any{"client", switchCh, "WORKING", false}},
	})}, calls[2].Params)

	v, err := s.GetValue(model.InterfaceRF, switchCh, "STATE")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	desc, ok := s.ParamsetDescription(model.InterfaceRF, switchCh, model.ParamsetValues)
	require.True(t, ok)
	assert.Equal(t, false, desc["STATE"].Default)
}

func TestActionEmitsSingleEvent(t *testing.T) {
	s, d := newTestSimulator(t)
	require.NoError(t, s.Register(model.InterfaceIP, ipURL, "ip-client"))
	c := d.Last(ipKey)
	waitForCalls(t, c, 2)

	require.NoError(t, s.SetValue(model.InterfaceIP, "000A18A9A64DAC:1", "PRESS_SHORT", true))

	calls := waitForCalls(t, c, 3)
	assert.Equal(t, []any{rpc.Multicall([]rpc.Request{
		{Method: "event", Params: []any{"ip-client", "000A18A9A64DAC:1", "PRESS_SHORT", true}},
	})}, calls[2].Params)
}

func TestSetValueWithoutEventBitIsSilent(t *testing.T) {
	s, d := newTestSimulator(t)
	require.NoError(t, s.Register(model.InterfaceRF, rfURL, "client"))
	c := d.Last(rfKey)
	waitForCalls(t, c, 2)

	require.NoError(t, s.SetValue(model.InterfaceRF, switchCh, "ON_TIME", 30))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, c.Calls(), 2)

	v, err := s.GetValue(model.InterfaceRF, switchCh, "ON_TIME")
	require.NoError(t, err)
	assert.Equal(t, 30, v)
}

func TestSetValueValidation(t *testing.T) {
	tests := []struct {
		name      string
		address   string
		datapoint string
		value     any
		wantErr   error
	}{
		{name: "unknown device", address: "NOPE:1", datapoint: "STATE", value: true, wantErr: ErrUnknownDevice},
		{name: "no values paramset", address: "JEQ0000001", datapoint: "STATE", value: true, wantErr: ErrUnknownParamset},
		{name: "unknown datapoint", address: switchCh, datapoint: "LEVEL", value: 1.0, wantErr: ErrUnknownDatapoint},
		{name: "bool needs bool", address: switchCh, datapoint: "STATE", value: 1, wantErr: ErrTypeMismatch},
		{name: "action needs bool", address: switchCh, datapoint: "INSTALL_TEST", value: "yes", wantErr: ErrTypeMismatch},
		{name: "float needs number", address: switchCh, datapoint: "ON_TIME", value: "10", wantErr: ErrTypeMismatch},
		{name: "float above max", address: switchCh, datapoint: "ON_TIME", value: 9000000.0, wantErr: ErrRangeError},
		{name: "float below min", address: switchCh, datapoint: "ON_TIME", value: -1, wantErr: ErrRangeError},
		{name: "integer above max", address: "JEQ0000001:0", datapoint: "RSSI_DEVICE", value: int64(1) << 40, wantErr: ErrRangeError},
		{name: "float NaN", address: switchCh, datapoint: "ON_TIME", value: math.NaN(), wantErr: ErrRangeError},
		{name: "float infinity", address: switchCh, datapoint: "ON_TIME", value: math.Inf(-1), wantErr: ErrRangeError},
		{name: "float at max", address: switchCh, datapoint: "ON_TIME", value: 8580000.0},
		{name: "enum bypasses checks", address: "JEQ0000002:1", datapoint: "STATE", value: "anything"},
		{name: "integer in range", address: "JEQ0000001:0", datapoint: "RSSI_DEVICE", value: -65},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSimulator(t)
			before, _ := s.GetValue(model.InterfaceRF, tt.address, tt.datapoint)

			err := s.SetValue(model.InterfaceRF, tt.address, tt.datapoint, tt.value)
			after, _ := s.GetValue(model.InterfaceRF, tt.address, tt.datapoint)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, before, after, "rejected value must not be stored")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.value, after)
		})
	}
}

func TestRejectedValueEmitsNothing(t *testing.T) {
	s, d := newTestSimulator(t)
	require.NoError(t, s.Register(model.InterfaceRF, rfURL, "client"))
	c := d.Last(rfKey)
	waitForCalls(t, c, 2)

	assert.Error(t, s.SetValue(model.InterfaceRF, switchCh, "STATE", "on"))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, c.Calls(), 2)
}

func TestPing(t *testing.T) {
	s, d := newTestSimulator(t)
	require.NoError(t, s.Register(model.InterfaceRF, rfURL, "rf-client"))
	require.NoError(t, s.Register(model.InterfaceIP, ipURL, "ip-client"))
	rf := d.Last(rfKey)
	ip := d.Last(ipKey)
	waitForCalls(t, rf, 2)
	waitForCalls(t, ip, 2)

	s.Ping(model.InterfaceRF, "hello")
	calls := waitForCalls(t, rf, 3)
	assert.Equal(t, rpctest.Call{Method: "event", Params: []any{"rf-client", "CENTRAL", "PONG", "hello"}}, calls[2])

	s.Ping(model.InterfaceIP, "hello")
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, ip.Calls(), 2)
}

func TestUnregisterWithEmptyID(t *testing.T) {
	s, d := newTestSimulator(t)
	require.NoError(t, s.Register(model.InterfaceRF, rfURL, "client"))
	require.Len(t, s.Clients(model.InterfaceRF), 1)

	require.NoError(t, s.Register(model.InterfaceRF, rfURL, ""))
	assert.Empty(t, s.Clients(model.InterfaceRF))
	assert.Equal(t, 1, d.Last(rfKey).Closes())

	// unknown key is a no-op
	require.NoError(t, s.Register(model.InterfaceRF, "xmlrpc_bin://127.0.0.1:9999", ""))
}

func TestReRegisterReplacesClient(t *testing.T) {
	s, d := newTestSimulator(t)
	require.NoError(t, s.Register(model.InterfaceIP, ipURL, "first"))
	require.NoError(t, s.Register(model.InterfaceIP, ipURL, "second"))

	clients := s.Clients(model.InterfaceIP)
	require.Len(t, clients, 1)
	assert.Equal(t, "second", clients[0].ID)

	callers := d.Callers(ipKey)
	require.Len(t, callers, 2)
	assert.Equal(t, 1, callers[0].Closes())
}

func TestGetParamset(t *testing.T) {
	s, _ := newTestSimulator(t)
	require.NoError(t, s.SetValue(model.InterfaceRF, switchCh, "STATE", true))

	values, err := s.GetParamset(model.InterfaceRF, switchCh, model.ParamsetValues)
	require.NoError(t, err)
	assert.Equal(t, true, values["STATE"])
	assert.Len(t, values, 5)

	_, err = s.GetParamset(model.InterfaceRF, switchCh, model.ParamsetMaster)
	assert.ErrorIs(t, err, ErrUnknownParamset)

	_, err = s.GetParamset(model.InterfaceRF, "NOPE", model.ParamsetValues)
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestCloseIsIdempotent(t *testing.T) {
	s, d := newTestSimulator(t)
	require.NoError(t, s.Register(model.InterfaceRF, rfURL, "client"))

	s.Close()
	s.Close()
	assert.Equal(t, 1, d.Last(rfKey).Closes())
	assert.Error(t, s.Register(model.InterfaceRF, rfURL, "client"))
}
