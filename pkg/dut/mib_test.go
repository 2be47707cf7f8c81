package dut

import "testing"

const sampleMib = `
[ 5360.255098] [***debug***] v_mib_state = 0x0  user->mib = 0
[ 5360.255188] [***debug***] v_mib_state = 0x0  user->mib = 0
[ 5360.255256] [***debug***] v_mib_state = 0x0  user->mib = 0
[ 5360.255334] [***debug***] v_mib_state = 0x0  user->mib = 0
[ 5360.255485] [***debug***] v_mib_state = 0x0  user->fcs_err = 0
[ 5360.255662] [***debug***] v_mib_state = 0x0  user->phy_err = 0
[ 5360.257334] [***debug***] user->rec_rx_count = 1000
[ 5360.258854] [***debug***] rssi1 = -76
[ 5360.258899] [***debug***] rssi2 = -77
receive 20M OK = 0, receive 40M OK = 1000, receive 80M OK = 0, receive 160M OK = 0
rssi_1 = -76， rssi_2 = -77
`

func TestParseMibRecRxCount(t *testing.T) {
	result := ParseMibResponse(sampleMib, 40)
	if result.RecRxCount == nil || *result.RecRxCount != 1000 {
		t.Errorf("rec_rx_count: got %v, want 1000", result.RecRxCount)
	}
}

func TestParseMibRxOKPerBandwidth(t *testing.T) {
	cases := []struct {
		bw   uint32
		want uint32
	}{
		{20, 0},
		{40, 1000},
		{80, 0},
		{160, 0},
	}
	for _, tc := range cases {
		result := ParseMibResponse(sampleMib, tc.bw)
		if result.RxOKCount == nil {
			t.Errorf("bw %d: rx_ok_count absent", tc.bw)
			continue
		}
		if *result.RxOKCount != tc.want {
			t.Errorf("bw %d: rx_ok_count = %d, want %d", tc.bw, *result.RxOKCount, tc.want)
		}
	}
}

func TestParseMibMissingBandwidth(t *testing.T) {
	result := ParseMibResponse(sampleMib, 10)
	if result.RxOKCount != nil {
		t.Errorf("expected absent rx_ok_count for 10 MHz, got %d", *result.RxOKCount)
	}
}

func TestParseMibEmptyInput(t *testing.T) {
	result := ParseMibResponse("", 20)
	if result.RecRxCount != nil || result.RxOKCount != nil {
		t.Errorf("expected both counters absent, got %+v", result)
	}
}
