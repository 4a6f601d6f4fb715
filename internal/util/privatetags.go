package util

import (
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	philipsImaging = "Philips Imaging DD 001"
	philipsMR      = "Philips MR Imaging DD 001"
	philipsMR005   = "Philips MR Imaging DD 005"
	philipsMR006   = "Philips MR Imaging DD 006"
)

// privateTags are Philips MR keywords accepted as overrides. Each is written
// with its VR and a private creator element reserving its block.
var privateTags = []TagInfo{
	private(0x2001, 0x1002, "IS", philipsImaging, "ChemicalShiftNumberMR"),
	private(0x2001, 0x100a, "IS", philipsImaging, "SliceNumberMR"),
	private(0x2001, 0x100b, "CS", philipsImaging, "SliceOrientation"),
	private(0x2001, 0x1014, "SL", philipsImaging, "NumberOfEchoes"),
	private(0x2001, 0x1015, "SS", philipsImaging, "NumberOfLocations"),
	private(0x2001, 0x1016, "SS", philipsImaging, "NumberOfPCDirections"),
	private(0x2001, 0x1017, "SL", philipsImaging, "NumberOfPhasesMR"),
	private(0x2001, 0x1018, "SL", philipsImaging, "NumberOfSlicesMR"),
	private(0x2001, 0x101a, "FL", philipsImaging, "PCVelocity"),
	private(0x2001, 0x101d, "IS", philipsImaging, "ReconstructionNumberMR"),
	private(0x2001, 0x1020, "LO", philipsImaging, "ScanningTechnique"),
	private(0x2001, 0x1025, "SH", philipsImaging, "EchoTimeDisplayMR"),
	private(0x2001, 0x102d, "SS", philipsImaging, "StackNumberOfSlices"),
	private(0x2001, 0x1032, "FL", philipsImaging, "StackRadialAngle"),
	private(0x2001, 0x1033, "CS", philipsImaging, "StackRadialAxis"),
	private(0x2001, 0x1035, "SS", philipsImaging, "MRSeriesDataType"),
	private(0x2001, 0x1036, "CS", philipsImaging, "StackType"),
	private(0x2001, 0x1060, "SL", philipsImaging, "NumberOfStacks"),
	private(0x2001, 0x1063, "CS", philipsImaging, "ExaminationSource"),
	private(0x2001, 0x1081, "IS", philipsImaging, "NumberOfDynamicScans"),

	private(0x2005, 0x1011, "CS", philipsMR, "MRImageType"),
	private(0x2005, 0x106e, "CS", philipsMR, "MRScanSequence"),
	private(0x2005, 0x1071, "FL", philipsMR, "MRStackAngulationAP"),
	private(0x2005, 0x1072, "FL", philipsMR, "MRStackAngulationFH"),
	private(0x2005, 0x1073, "FL", philipsMR, "MRStackAngulationRL"),
	private(0x2005, 0x1074, "FL", philipsMR, "MRStackFovAP"),
	private(0x2005, 0x1075, "FL", philipsMR, "MRStackFovFH"),
	private(0x2005, 0x1076, "FL", philipsMR, "MRStackFovRL"),
	private(0x2005, 0x1078, "FL", philipsMR, "MRStackOffcentreAP"),
	private(0x2005, 0x1079, "FL", philipsMR, "MRStackOffcentreFH"),
	private(0x2005, 0x107a, "FL", philipsMR, "MRStackOffcentreRL"),
	private(0x2005, 0x107b, "CS", philipsMR, "MRStackPreparationDirection"),
	private(0x2005, 0x107e, "FL", philipsMR, "MRStackSliceDistance"),
	private(0x2005, 0x1081, "CS", philipsMR, "MRStackViewAxis"),
	private(0x2005, 0x143c, "FL", philipsMR005, "MRStackTablePosLong"),
	private(0x2005, 0x143d, "FL", philipsMR005, "MRStackTablePosLat"),
	private(0x2005, 0x143e, "FL", philipsMR005, "MRStackPosteriorCoilPos"),
	private(0x2005, 0x1567, "IS", philipsMR006, "MRPhilipsX1"),
}

func private(group, element uint16, vr, creator, name string) TagInfo {
	return TagInfo{
		Name:    name,
		Tag:     tag.Tag{Group: group, Element: element},
		Scope:   ScopeSeries,
		VR:      vr,
		Creator: creator,
	}
}

func init() {
	for _, info := range privateTags {
		tagRegistry[strings.ToLower(info.Name)] = info
	}
}

// Private reports whether the keyword names a private tag.
func (i TagInfo) Private() bool { return tag.IsPrivate(i.Tag.Group) }

// CreatorTag returns the (gggg,00xx) element reserving the block of a
// private tag.
func (i TagInfo) CreatorTag() tag.Tag {
	return tag.Tag{Group: i.Tag.Group, Element: i.Tag.Element >> 8}
}
