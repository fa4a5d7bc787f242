package normalize

import "github.com/sells-group/screening-sync/internal/model"

func col(required bool, aliases ...string) Column {
	return Column{Aliases: aliases, Required: required}
}

func builtinProfiles() []*Profile {
	return []*Profile{crlProfile(), i3ScreenProfile(), eScreenProfile()}
}

// crlProfile reads the Clinical Reference Laboratory results export.
func crlProfile() *Profile {
	return &Profile{
		Name:        "crl",
		Description: "Clinical Reference Laboratory results export",
		Status:      col(true, "Status"),
		ExcludeStatus: []string{
			"pending laboratory testing",
			"pending collection",
			"collection not performed",
			"physical exam - pending",
		},
		FullName:   col(true, "Name"),
		ExternalID: col(false, "Reference ID"),
		SynthesizeID: &IDSynthesis{
			TypeColumn: col(false, "Type"),
			KeyColumn:  col(false, "Authorized ID"),
			Prefixes:   map[string]string{"A": "BAT", "PHY": "PHY"},
		},
		SecondaryID:      col(false, "CCF Donor ID"),
		Company:          col(false, "Company Name", "Company"),
		CompanyCode:      col(false, "Company Code"),
		CompanyCodeMode:  CodeDirect,
		CollectionDate:   col(true, "Collection Date"),
		ReceivedDate:     col(false, "Reviewed Date"),
		DropUndated:      true,
		Reason:           col(false, "Reason"),
		DefaultReason:    "Other",
		Result:           col(false, "MRO Result"),
		PositiveAnalytes: col(false, "Positive For"),
		Regulation:       col(false, "Regulated"),
		Agency:           col(false, "Regulatory Mode"),
		MeasuredValue:    col(false, "Alcohol Screen value", "Alcohol Screen Value"),
		TestType:         col(false, "Service"),
		TestTypeOverride: &Override{
			Column: col(false, "Type"),
			Equals: "PHY",
			Value:  model.TestTypePhysical,
		},
		Laboratory:                 col(false, "Lab Code"),
		NoLabTestTypes:             []string{"poct", "alcohol"},
		SiteName:                   col(false, "Site Name"),
		SiteID:                     col(false, "Site ID"),
		LocationDefault:            "None",
		BreathReceivedIsCollection: true,
		POCTSameDayNegative:        true,
	}
}

// i3ScreenProfile reads the i3screen results export.
func i3ScreenProfile() *Profile {
	return &Profile{
		Name:             "i3screen",
		Description:      "i3screen results export",
		ExternalID:       col(true, "CCF / Test Number", "CCF/Test Number"),
		FirstName:        col(false, "First Name"),
		LastName:         col(true, "Last Name"),
		SecondaryID:      col(false, "SSN/EID"),
		Company:          col(false, "Customer"),
		CompanyCodeMode:  CodeAccountNumber,
		AccountNumber:    col(false, "Org ID"),
		CollectionDate:   col(true, "Collection Date/Time", "Collection Date"),
		ReceivedDate:     col(false, "Report Date"),
		Reason:           col(false, "Reason For Test"),
		Result:           col(false, "MRO Result"),
		PositiveAnalytes: col(false, "Positive For"),
		Regulation:       col(false, "Program Description"),
		Agency:           col(false, "Agency"),
		TestType:         col(false, "Specimen Type"),
		TestTypeRules: []Rule{
			{Contains: []string{"urine"}, Value: model.TestTypeLabUrine},
			{Contains: []string{"hair"}, Value: model.TestTypeLabHair},
			{Contains: []string{"breath", "ebt"}, Value: model.TestTypeBreathAlcohol},
		},
		TestTypeDefault: model.TestTypeOther,
		Laboratory:      col(false, "Lab"),
		SiteName:        col(false, "Collection Site"),
		SiteID:          col(false, "Collection Site ID"),
		Location:        col(false, "Location"),
		LocationDefault: "None",
		LocationBlank:   []string{"TCW INC FSAT"},
	}
}

// eScreenProfile reads the eScreen drug test summary report.
func eScreenProfile() *Profile {
	return &Profile{
		Name:             "escreen",
		Description:      "eScreen drug test summary report",
		HeaderMarkers:    []string{"Donor Name", "COC"},
		FullName:         col(true, "Donor Name", "DonorName"),
		ExternalID:       col(true, "COC", "CCFID", "Test Number"),
		SecondaryID:      col(true, "SSN", "Donor SSN"),
		Company:          col(true, "Cost Center", "CostCenter"),
		CompanyFallback:  col(true, "Client", "Company", "Employer"),
		CompanyCodeMode:  CodeFuzzy,
		CollectionDate:   col(true, "Collection Date/Time", "Collection Date"),
		ReceivedDate:     col(true, "Final Verification Date/Time", "MRO_Received"),
		Reason:           col(true, "Reason"),
		Result:           col(true, "Result"),
		DropUnresulted:   true,
		PositiveAnalytes: col(false, "Positive For"),
		Regulation:       col(true, "Regulation"),
		MeasuredValue:    col(true, "BA Quant", "baValue"),
		TestType:         col(true, "Test Type"),
		TestTypeRules: []Rule{
			{Contains: []string{"ecup"}, Value: model.TestTypePOCTUrine},
			{Contains: []string{"alere", "quest"}, Value: model.TestTypeLabUrine},
			{Contains: []string{"omega"}, Value: model.TestTypeLabHair},
			{Contains: []string{"ebt", "breath"}, Value: model.TestTypeBreathAlcohol},
		},
		TestTypeDefault:              model.TestTypeOther,
		Laboratory:                   col(true, "Test Type"),
		NoLabTestTypes:               []string{"poct", "alcohol"},
		StaticSite:                   &StaticSite{Name: "eScreen", ID: "eScreen"},
		LocationDefault:              "None",
		ClearSiteForLocationAccounts: true,
	}
}
