package treatment

import (
	"fmt"
	"math"
	"strings"
)

// ReactorType enumerates the biological reactors the toolset can size.
type ReactorType string

const (
	ReactorUASB            ReactorType = "UASB"
	ReactorSBR             ReactorType = "SBR"
	ReactorMBR             ReactorType = "MBR"
	ReactorActivatedSludge ReactorType = "ActivatedSludge"
)

// ParseReactorType maps free-form technology names onto a ReactorType.
func ParseReactorType(name string) (ReactorType, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(key)
	switch key {
	case "uasb", "uasbreactor", "anaerobicreactor":
		return ReactorUASB, nil
	case "sbr", "sequencingbatchreactor":
		return ReactorSBR, nil
	case "mbr", "membranebioreactor":
		return ReactorMBR, nil
	case "activatedsludge", "conventionalactivatedsludge", "cas", "aerationtank", "extendedaeration":
		return ReactorActivatedSludge, nil
	default:
		return "", fmt.Errorf("%w: unknown reactor type %q", ErrInvalidInput, name)
	}
}

// IsBiological reports whether a technology name is one of the sizable reactors.
func IsBiological(technology string) bool {
	_, err := ParseReactorType(technology)
	return err == nil
}

// Anaerobic reports whether the reactor runs without aeration.
func (t ReactorType) Anaerobic() bool {
	return t == ReactorUASB
}

// TypicalMaxHRTHours is the upper end of the usual retention time range.
func (t ReactorType) TypicalMaxHRTHours() float64 {
	switch t {
	case ReactorUASB, ReactorSBR:
		return 24
	case ReactorMBR, ReactorActivatedSludge:
		return 12
	default:
		return 0
	}
}

// oversizeFactor is the HRT multiple of the typical maximum above which a
// sizing result is flagged.
const oversizeFactor = 2.0

// ReactorSizingResult is the output of a single reactor sizing call.
type ReactorSizingResult struct {
	ReactorType                 ReactorType `json:"reactor_type"`
	VolumeM3                    float64     `json:"volume_m3"`
	HydraulicRetentionTimeHours float64     `json:"hydraulic_retention_time_hours"`
	LoadKgPerDay                float64     `json:"load_kg_per_day"`
	FlowRateM3Day               float64     `json:"flow_rate_m3_day"`
	DesignBasis                 string      `json:"design_basis"`
	MembraneAreaM2              float64     `json:"membrane_area_m2,omitempty"`
	Warnings                    []string    `json:"warnings"`
}

// Oversized reports whether the HRT exceeds twice the typical maximum for
// the technology. It is a design smell, not an error.
func (r ReactorSizingResult) Oversized() bool {
	limit := r.ReactorType.TypicalMaxHRTHours()
	return limit > 0 && r.HydraulicRetentionTimeHours > oversizeFactor*limit
}

// Design constants for the closed-form sizing models.
const (
	uasbOLRRef        = 10.0 // kg COD/m3.d at 30 C
	uasbThetaOLR      = 1.05
	uasbOLRMin        = 2.0
	sbrFMRef          = 0.10 // kg BOD/kg MLVSS.d at 20 C
	sbrMLVSS          = 3.5  // kg/m3
	asFMRef           = 0.30
	asMLVSS           = 3.0
	mbrFluxRef        = 20.0 // L/m2.h at 20 C
	mbrThetaFlux      = 1.025
	mbrPackingM2PerM3 = 40.0
	mbrFM             = 0.10
	mbrMLVSS          = 10.0
	aerobicThetaFM    = 1.024
)

// SizeBiologicalReactor sizes one biological reactor. loadKgPerDay is the
// COD load for anaerobic reactors and the BOD load for aerobic ones.
// Out-of-range results are returned with warnings attached; the caller
// decides whether to revise the design.
func SizeBiologicalReactor(reactorType ReactorType, loadKgPerDay, flowRateM3Day, temperatureC float64) (ReactorSizingResult, error) {
	if !finite(flowRateM3Day) || flowRateM3Day <= 0 {
		return ReactorSizingResult{}, fmt.Errorf("%w: flow rate must be positive, got %v", ErrInvalidInput, flowRateM3Day)
	}
	if !finite(loadKgPerDay) || loadKgPerDay < 0 {
		return ReactorSizingResult{}, fmt.Errorf("%w: load must be non-negative, got %v", ErrInvalidInput, loadKgPerDay)
	}
	if !finite(temperatureC) || temperatureC < 0 || temperatureC > 60 {
		return ReactorSizingResult{}, fmt.Errorf("%w: temperature %v C outside 0-60 C", ErrInvalidInput, temperatureC)
	}

	var res ReactorSizingResult
	switch reactorType {
	case ReactorUASB:
		res = sizeUASB(loadKgPerDay, temperatureC)
	case ReactorSBR:
		res = sizeFoodToMass(sbrFMRef, sbrMLVSS, loadKgPerDay, temperatureC)
	case ReactorActivatedSludge:
		res = sizeFoodToMass(asFMRef, asMLVSS, loadKgPerDay, temperatureC)
	case ReactorMBR:
		res = sizeMBR(loadKgPerDay, flowRateM3Day, temperatureC)
	default:
		return ReactorSizingResult{}, fmt.Errorf("%w: unknown reactor type %q", ErrInvalidInput, reactorType)
	}

	res.ReactorType = reactorType
	res.LoadKgPerDay = loadKgPerDay
	res.FlowRateM3Day = flowRateM3Day
	res.HydraulicRetentionTimeHours = res.VolumeM3 / (flowRateM3Day / 24)
	if res.Warnings == nil {
		res.Warnings = []string{}
	}

	limit := reactorType.TypicalMaxHRTHours()
	if res.HydraulicRetentionTimeHours > oversizeFactor*limit {
		res.Warnings = append(res.Warnings, fmt.Sprintf("HRT %.1fh is %.1f× the typical maximum of %.0fh",
			res.HydraulicRetentionTimeHours, res.HydraulicRetentionTimeHours/limit, limit))
	}
	if temperatureC < 10 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("temperature %.1f C is below 10 C; biological kinetics are strongly inhibited", temperatureC))
	}

	return res, nil
}

func sizeUASB(codLoad, temperatureC float64) ReactorSizingResult {
	olr := uasbOLRRef * math.Pow(uasbThetaOLR, temperatureC-30)
	if olr > uasbOLRRef {
		olr = uasbOLRRef
	}
	if olr < uasbOLRMin {
		olr = uasbOLRMin
	}

	res := ReactorSizingResult{
		VolumeM3:    codLoad / olr,
		DesignBasis: fmt.Sprintf("organic loading rate %.2f kg COD/m3.d", olr),
	}
	if temperatureC < 15 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("temperature %.1f C is below 15 C; UASB performance is unreliable", temperatureC))
	}
	return res
}

func sizeFoodToMass(fmRef, mlvss, bodLoad, temperatureC float64) ReactorSizingResult {
	fm := fmRef * math.Pow(aerobicThetaFM, temperatureC-20)
	return ReactorSizingResult{
		VolumeM3:    bodLoad / (fm * mlvss),
		DesignBasis: fmt.Sprintf("F/M %.3f kg BOD/kg MLVSS.d at MLVSS %.1f kg/m3", fm, mlvss),
	}
}

func sizeMBR(bodLoad, flowRateM3Day, temperatureC float64) ReactorSizingResult {
	flux := mbrFluxRef * math.Pow(mbrThetaFlux, temperatureC-20)
	area := flowRateM3Day * 1000 / (flux * 24)
	membraneVolume := area / mbrPackingM2PerM3

	fm := mbrFM * math.Pow(aerobicThetaFM, temperatureC-20)
	bioVolume := bodLoad / (fm * mbrMLVSS)

	res := ReactorSizingResult{MembraneAreaM2: area}
	if bioVolume > membraneVolume {
		res.VolumeM3 = bioVolume
		res.DesignBasis = fmt.Sprintf("F/M %.3f kg BOD/kg MLVSS.d at MLVSS %.1f kg/m3 (flux %.1f LMH, %.0f m2 membrane)",
			fm, mbrMLVSS, flux, area)
	} else {
		res.VolumeM3 = membraneVolume
		res.DesignBasis = fmt.Sprintf("membrane flux %.1f LMH over %.0f m2 at %.0f m2/m3",
			flux, area, mbrPackingM2PerM3)
	}
	return res
}
