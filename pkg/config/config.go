// Package config loads a station's static configuration from an INI
// file: the local NAME fields, protocol timers, TECU classification,
// and persistent NIU filter rules.
package config

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"
)

// Timers collects every protocol timeout and budget, each defaulted
// to its standard value and overridable from the [timers] section.
type Timers struct {
	AddressClaimWindow time.Duration // 250ms claim contention window
	DynamicRangeLow    uint8         // 128
	DynamicRangeHigh   uint8         // 247

	TPT1 time.Duration // receiver inter-packet silence, 1250ms
	TPT2 time.Duration // CTS sender awaiting data, 1250ms
	TPT3 time.Duration // CTS receiver awaiting CTS, 1250ms
	TPT4 time.Duration // end-of-message-ack wait, 1250ms
	BAMInterval time.Duration // >=50ms between BAM data packets

	MaxFreezeFramesPerDTC int // default 3

	VTStatusTimeout time.Duration // default 3s

	CCMInterval          time.Duration // default 2s
	CCMTimeout           time.Duration // default 6s
	TANCacheTimeout      time.Duration // default 10s
	MaxOpenFilesPerClient int          // default 8
	MaxOpenFilesTotal     int          // default 32
	VolumeMaxRemovalTime  time.Duration // default 10s

	ShutdownMaxTime time.Duration // default 180s
	MaintainTimeout time.Duration // default 2s
}

// DefaultTimers returns the standard default for every timer.
func DefaultTimers() Timers {
	return Timers{
		AddressClaimWindow:    250 * time.Millisecond,
		DynamicRangeLow:       128,
		DynamicRangeHigh:      247,
		TPT1:                  1250 * time.Millisecond,
		TPT2:                  1250 * time.Millisecond,
		TPT3:                  1250 * time.Millisecond,
		TPT4:                  1250 * time.Millisecond,
		BAMInterval:           50 * time.Millisecond,
		MaxFreezeFramesPerDTC: 3,
		VTStatusTimeout:       3 * time.Second,
		CCMInterval:           2 * time.Second,
		CCMTimeout:            6 * time.Second,
		TANCacheTimeout:       10 * time.Second,
		MaxOpenFilesPerClient: 8,
		MaxOpenFilesTotal:     32,
		VolumeMaxRemovalTime:  10 * time.Second,
		ShutdownMaxTime:       180 * time.Second,
		MaintainTimeout:       2 * time.Second,
	}
}

// Station describes this node's NAME fields and preferred address.
type Station struct {
	IdentityNumber        uint32
	ManufacturerCode      uint16
	ECUInstance           uint8
	FunctionInstance      uint8
	Function              uint8
	VehicleSystem         uint8
	VehicleSystemInstance uint8
	IndustryGroup         uint8
	ArbitraryAddressCapable bool
	PreferredAddress      uint8
}

// TECU describes a station's tractor-ECU classification.
type TECU struct {
	BaseClass string // Class1, Class2, Class3
	Navigation bool
	Guidance bool
	FrontMounted bool
	Powertrain bool
	MotionInitiation bool
	Version  int // 1 or 2
	Instance int // 0 = primary
}

// FilterRule mirrors niu.FilterRule's persisted fields; kept as a
// config-layer DTO so pkg/niu does not need to depend on pkg/config.
type FilterRule struct {
	PGN            uint32
	Policy         string // allow, block, monitor
	Bidirectional  bool
	SourceName     *uint64
	DestName       *uint64
	MaxFrequencyMs uint16
	Persistent     bool
}

// Config is a fully loaded station configuration.
type Config struct {
	Timers  Timers
	Station Station
	TECU    TECU
	Filters []FilterRule
}

// Load parses an INI file into a Config, applying defaults for
// anything not present.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	cfg := &Config{Timers: DefaultTimers()}

	if sec, err := f.GetSection("station"); err == nil {
		cfg.Station.IdentityNumber = uint32(sec.Key("identity_number").MustUint(0))
		cfg.Station.ManufacturerCode = uint16(sec.Key("manufacturer_code").MustUint(0))
		cfg.Station.ECUInstance = uint8(sec.Key("ecu_instance").MustUint(0))
		cfg.Station.FunctionInstance = uint8(sec.Key("function_instance").MustUint(0))
		cfg.Station.Function = uint8(sec.Key("function").MustUint(0))
		cfg.Station.VehicleSystem = uint8(sec.Key("vehicle_system").MustUint(0))
		cfg.Station.VehicleSystemInstance = uint8(sec.Key("vehicle_system_instance").MustUint(0))
		cfg.Station.IndustryGroup = uint8(sec.Key("industry_group").MustUint(0))
		cfg.Station.ArbitraryAddressCapable = sec.Key("arbitrary_address_capable").MustBool(true)
		cfg.Station.PreferredAddress = uint8(sec.Key("preferred_address").MustUint(254))
	}

	if sec, err := f.GetSection("timers"); err == nil {
		cfg.Timers.AddressClaimWindow = msKey(sec, "address_claim_window_ms", cfg.Timers.AddressClaimWindow)
		cfg.Timers.TPT1 = msKey(sec, "tp_t1_ms", cfg.Timers.TPT1)
		cfg.Timers.TPT2 = msKey(sec, "tp_t2_ms", cfg.Timers.TPT2)
		cfg.Timers.TPT3 = msKey(sec, "tp_t3_ms", cfg.Timers.TPT3)
		cfg.Timers.TPT4 = msKey(sec, "tp_t4_ms", cfg.Timers.TPT4)
		cfg.Timers.BAMInterval = msKey(sec, "bam_interval_ms", cfg.Timers.BAMInterval)
		cfg.Timers.MaxFreezeFramesPerDTC = sec.Key("max_freeze_frames_per_dtc").MustInt(cfg.Timers.MaxFreezeFramesPerDTC)
		cfg.Timers.VTStatusTimeout = msKey(sec, "vt_status_timeout_ms", cfg.Timers.VTStatusTimeout)
		cfg.Timers.CCMInterval = msKey(sec, "ccm_interval_ms", cfg.Timers.CCMInterval)
		cfg.Timers.CCMTimeout = msKey(sec, "ccm_timeout_ms", cfg.Timers.CCMTimeout)
		cfg.Timers.TANCacheTimeout = msKey(sec, "tan_cache_timeout_ms", cfg.Timers.TANCacheTimeout)
		cfg.Timers.MaxOpenFilesPerClient = sec.Key("max_open_files_per_client").MustInt(cfg.Timers.MaxOpenFilesPerClient)
		cfg.Timers.MaxOpenFilesTotal = sec.Key("max_open_files_total").MustInt(cfg.Timers.MaxOpenFilesTotal)
		cfg.Timers.VolumeMaxRemovalTime = msKey(sec, "volume_max_removal_time_ms", cfg.Timers.VolumeMaxRemovalTime)
		cfg.Timers.ShutdownMaxTime = msKey(sec, "shutdown_max_time_ms", cfg.Timers.ShutdownMaxTime)
		cfg.Timers.MaintainTimeout = msKey(sec, "maintain_timeout_ms", cfg.Timers.MaintainTimeout)
	}

	if sec, err := f.GetSection("tecu"); err == nil {
		cfg.TECU.BaseClass = sec.Key("base_class").MustString("Class1")
		cfg.TECU.Navigation = sec.Key("navigation").MustBool(false)
		cfg.TECU.Guidance = sec.Key("guidance").MustBool(false)
		cfg.TECU.FrontMounted = sec.Key("front_mounted").MustBool(false)
		cfg.TECU.Powertrain = sec.Key("powertrain").MustBool(false)
		cfg.TECU.MotionInitiation = sec.Key("motion_initiation").MustBool(false)
		cfg.TECU.Version = sec.Key("version").MustInt(1)
		cfg.TECU.Instance = sec.Key("instance").MustInt(0)
	}

	filterSecs, _ := f.SectionsByName("filter")
	for _, sec := range filterSecs {
		rule := FilterRule{
			PGN:            uint32(sec.Key("pgn").MustUint(0)),
			Policy:         sec.Key("policy").MustString("allow"),
			Bidirectional:  sec.Key("bidirectional").MustBool(false),
			MaxFrequencyMs: uint16(sec.Key("max_frequency_ms").MustUint(0)),
			Persistent:     sec.Key("persistent").MustBool(true),
		}
		if v := sec.Key("source_name").MustUint64(0); v != 0 {
			rule.SourceName = &v
		}
		if v := sec.Key("dest_name").MustUint64(0); v != 0 {
			rule.DestName = &v
		}
		cfg.Filters = append(cfg.Filters, rule)
	}

	return cfg, nil
}

func msKey(sec *ini.Section, key string, fallback time.Duration) time.Duration {
	ms := sec.Key(key).MustInt(-1)
	if ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
