package mac

import (
	"github.com/rs/zerolog"

	"github.com/lorawan-server/lorawan-device-pro/pkg/lorawan"
	"github.com/lorawan-server/lorawan-device-pro/pkg/region"
)

// TxSettings is the transmit configuration the network steers through MAC
// commands.
type TxSettings struct {
	DataRate      uint8 `json:"data_rate"`
	EIRP          uint8 `json:"eirp"`
	NbRep         uint8 `json:"nb_rep"`
	RxDelay       uint8 `json:"rx_delay"`
	MaxDutyCycle  uint8 `json:"max_duty_cycle"`
	UplinkDwell   bool  `json:"uplink_dwell"`
	DownlinkDwell bool  `json:"downlink_dwell"`
}

// DefaultTxSettings returns the settings a fresh session starts from.
func DefaultTxSettings(plan *region.Plan) TxSettings {
	eirp, _ := plan.TXPowerAdjust(0)
	return TxSettings{
		DataRate: plan.JoinDataRate(),
		EIRP:     eirp,
		NbRep:    1,
		RxDelay:  1,
	}
}

// CommandHandler applies downlink MAC commands to the channel plan and
// transmit settings and produces the mandatory answers. A command that fails
// validation still produces its answer, with the failing sub-fields
// unacknowledged; nothing is dropped silently.
type CommandHandler struct {
	plan     *region.Plan
	settings *TxSettings
	log      zerolog.Logger
}

// NewCommandHandler creates a handler mutating the given plan and settings.
func NewCommandHandler(plan *region.Plan, settings *TxSettings, logger zerolog.Logger) *CommandHandler {
	return &CommandHandler{plan: plan, settings: settings, log: logger}
}

// Results carries the command outcomes the application may care about beyond
// the wire-level answers.
type Results struct {
	Answers    []lorawan.MACCommand
	LinkCheck  *lorawan.LinkCheckAnsPayload
	DeviceTime *lorawan.DeviceTimeAnsPayload
}

// Apply processes every command of a downlink in order. Plan and settings
// mutations are visible before the next uplink's channel selection.
func (h *CommandHandler) Apply(cmds []lorawan.MACCommand) Results {
	var res Results

	for _, cmd := range cmds {
		switch cmd.CID {
		case lorawan.CIDLinkCheckAns:
			if p, ok := cmd.Payload.(*lorawan.LinkCheckAnsPayload); ok {
				res.LinkCheck = p
				h.log.Debug().Uint8("margin", p.Margin).Uint8("gw_cnt", p.GwCnt).Msg("link check answer")
			}

		case lorawan.CIDLinkADRReq:
			if p, ok := cmd.Payload.(*lorawan.LinkADRReqPayload); ok {
				res.Answers = append(res.Answers, h.handleLinkADR(p))
			}

		case lorawan.CIDDutyCycleReq:
			if p, ok := cmd.Payload.(*lorawan.DutyCycleReqPayload); ok {
				h.settings.MaxDutyCycle = p.MaxDutyCycle
				res.Answers = append(res.Answers, lorawan.MACCommand{CID: lorawan.CIDDutyCycleAns})
			}

		case lorawan.CIDRXParamSetupReq:
			if p, ok := cmd.Payload.(*lorawan.RXParamSetupReqPayload); ok {
				res.Answers = append(res.Answers, h.handleRXParamSetup(p))
			}

		case lorawan.CIDDevStatusReq:
			res.Answers = append(res.Answers, h.handleDevStatus())

		case lorawan.CIDNewChannelReq:
			if p, ok := cmd.Payload.(*lorawan.NewChannelReqPayload); ok {
				res.Answers = append(res.Answers, h.handleNewChannel(p))
			}

		case lorawan.CIDRXTimingSetupReq:
			if p, ok := cmd.Payload.(*lorawan.RXTimingSetupReqPayload); ok {
				delay := p.Delay
				if delay == 0 {
					delay = 1
				}
				h.settings.RxDelay = delay
				res.Answers = append(res.Answers, lorawan.MACCommand{CID: lorawan.CIDRXTimingSetupAns})
			}

		case lorawan.CIDTXParamSetupReq:
			if p, ok := cmd.Payload.(*lorawan.TXParamSetupReqPayload); ok {
				h.settings.UplinkDwell = p.UplinkDwellTime
				h.settings.DownlinkDwell = p.DownlinkDwellTime
				res.Answers = append(res.Answers, lorawan.MACCommand{CID: lorawan.CIDTXParamSetupAns})
			}

		case lorawan.CIDDLChannelReq:
			if p, ok := cmd.Payload.(*lorawan.DLChannelReqPayload); ok {
				res.Answers = append(res.Answers, h.handleDLChannel(p))
			}

		case lorawan.CIDDeviceTimeAns:
			if p, ok := cmd.Payload.(*lorawan.DeviceTimeAnsPayload); ok {
				res.DeviceTime = p
				h.log.Debug().Uint32("seconds", p.Seconds).Msg("device time answer")
			}

		default:
			h.log.Warn().Uint8("cid", uint8(cmd.CID)).Msg("unhandled MAC command")
		}
	}
	return res
}

func (h *CommandHandler) handleLinkADR(p *lorawan.LinkADRReqPayload) lorawan.MACCommand {
	ans := lorawan.LinkADRAnsPayload{ChannelMaskACK: true, DataRateACK: true, PowerACK: true}

	if _, err := h.plan.Datarate(p.DataRate); err != nil {
		ans.DataRateACK = false
	}
	eirp, err := h.plan.TXPowerAdjust(p.TXPower)
	if err != nil {
		ans.PowerACK = false
	}
	if err := h.plan.ApplyChannelMask(p.Redundancy.ChMaskCntl, p.ChMask); err != nil {
		ans.ChannelMaskACK = false
	}

	// all three sub-fields must pass before any of them takes effect
	if ans.DataRateACK && ans.PowerACK && ans.ChannelMaskACK {
		h.settings.DataRate = p.DataRate
		h.settings.EIRP = eirp
		if p.Redundancy.NbRep > 0 {
			h.settings.NbRep = p.Redundancy.NbRep
		}
	} else {
		h.log.Warn().
			Uint8("data_rate", p.DataRate).
			Uint8("tx_power", p.TXPower).
			Bool("dr_ack", ans.DataRateACK).
			Bool("power_ack", ans.PowerACK).
			Bool("mask_ack", ans.ChannelMaskACK).
			Msg("rejected LinkADRReq")
	}
	return lorawan.MACCommand{CID: lorawan.CIDLinkADRAns, Payload: &ans}
}

func (h *CommandHandler) handleRXParamSetup(p *lorawan.RXParamSetupReqPayload) lorawan.MACCommand {
	ans := lorawan.RXParamSetupAnsPayload{ChannelACK: true, RX2DataRateACK: true, RX1DROffsetACK: true}

	if !h.plan.ValidFrequency(p.Frequency) {
		ans.ChannelACK = false
	}
	if _, err := h.plan.Datarate(p.DLSettings.RX2DataRate); err != nil {
		ans.RX2DataRateACK = false
	}
	if p.DLSettings.RX1DROffset > 7 {
		ans.RX1DROffsetACK = false
	}

	if ans.ChannelACK && ans.RX2DataRateACK && ans.RX1DROffsetACK {
		if err := h.plan.SetRX2(p.Frequency, p.DLSettings.RX2DataRate); err == nil {
			_ = h.plan.SetRX1DROffset(p.DLSettings.RX1DROffset)
		}
	}
	return lorawan.MACCommand{CID: lorawan.CIDRXParamSetupAns, Payload: &ans}
}

func (h *CommandHandler) handleDevStatus() lorawan.MACCommand {
	// battery 255: the device cannot measure its level
	return lorawan.MACCommand{
		CID:     lorawan.CIDDevStatusAns,
		Payload: &lorawan.DevStatusAnsPayload{Battery: 255, Margin: 0},
	}
}

func (h *CommandHandler) handleNewChannel(p *lorawan.NewChannelReqPayload) lorawan.MACCommand {
	ans := lorawan.NewChannelAnsPayload{ChannelFrequencyOK: true, DataRateRangeOK: true}

	if p.Freq != 0 && !h.plan.ValidFrequency(p.Freq) {
		ans.ChannelFrequencyOK = false
	}
	if _, err := h.plan.Datarate(p.MinDR); err != nil || p.MinDR > p.MaxDR {
		ans.DataRateRangeOK = false
	} else if _, err := h.plan.Datarate(p.MaxDR); err != nil {
		ans.DataRateRangeOK = false
	}

	if ans.ChannelFrequencyOK && ans.DataRateRangeOK {
		if err := h.plan.AddChannel(p.ChIndex, p.Freq, p.MinDR, p.MaxDR); err != nil {
			h.log.Warn().Err(err).Uint8("ch_index", p.ChIndex).Msg("rejected NewChannelReq")
			ans.ChannelFrequencyOK = false
		}
	}
	return lorawan.MACCommand{CID: lorawan.CIDNewChannelAns, Payload: &ans}
}

func (h *CommandHandler) handleDLChannel(p *lorawan.DLChannelReqPayload) lorawan.MACCommand {
	ans := lorawan.DLChannelAnsPayload{ChannelFrequencyOK: true, UplinkFrequencyExistsOK: true}

	if !h.plan.ValidFrequency(p.Freq) {
		ans.ChannelFrequencyOK = false
	}
	if ch, err := h.plan.Channel(p.ChIndex); err != nil || ch.Frequency == 0 {
		ans.UplinkFrequencyExistsOK = false
	}

	if ans.ChannelFrequencyOK && ans.UplinkFrequencyExistsOK {
		if err := h.plan.SetDownlinkFrequency(p.ChIndex, p.Freq); err != nil {
			ans.ChannelFrequencyOK = false
		}
	}
	return lorawan.MACCommand{CID: lorawan.CIDDLChannelAns, Payload: &ans}
}
