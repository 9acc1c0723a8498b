package docxtemplar

import "testing"

func TestNormKey(t *testing.T) {
	cases := map[string]string{
		"Company Name":  "companyname",
		"Company_Name":  "companyname",
		"company-name":  "companyname",
		"companyName":   "companyname",
		"  Total Price": "totalprice",
	}
	for in, want := range cases {
		if got := normKey(in); got != want {
			t.Fatalf("normKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSpellingVariants(t *testing.T) {
	got := spellingVariants("Company Name")
	want := []string{"Company Name", "Company_Name", "Company-Name"}
	if len(got) != len(want) {
		t.Fatalf("spellingVariants = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("spellingVariants[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBuildTokenTable_AliasResolution(t *testing.T) {
	tbl := BuildTokenTable(Record{
		"Customer Name": "Jordan Lee",
		"Total Cost":    "$5,000.00",
	})

	// значение видно под всеми алиасами группы
	for _, name := range []string{"Client Name", "Customer Name", "clientName", "client_name"} {
		if v, ok := tbl.Lookup(name); !ok || v != "Jordan Lee" {
			t.Fatalf("Lookup(%q) = %q ok=%v", name, v, ok)
		}
	}
	if v, _ := tbl.Lookup("Total Price"); v != "$5,000.00" {
		t.Fatalf("Total Price = %q", v)
	}
}

func TestBuildTokenTable_FirstNonEmptyWins(t *testing.T) {
	tbl := BuildTokenTable(Record{
		"Company Name": "",
		"Company":      "Acme Corp",
	})
	if v, _ := tbl.Lookup("Company Name"); v != "Acme Corp" {
		t.Fatalf("Company Name = %q", v)
	}
}

func TestBuildTokenTable_DiscountZeroed(t *testing.T) {
	tbl := BuildTokenTable(Record{
		"Discount Percentage": "0",
		"Discount Amount":     "$250.00",
	})
	// "$250.00" при нулевом проценте — скидка всё равно применена
	if !tbl.discountApplied {
		t.Fatalf("discountApplied = false при непустой сумме")
	}

	tbl = BuildTokenTable(Record{"Discount Percentage": "N/A"})
	if tbl.discountApplied {
		t.Fatalf("discountApplied = true при N/A")
	}
	if v, _ := tbl.Lookup("Discount Percentage"); v != "" {
		t.Fatalf("Discount Percentage = %q, хотим пусто", v)
	}
}

func TestBuildTokenTable_DerivedEndDate(t *testing.T) {
	tbl := BuildTokenTable(Record{
		"Start Date":         "2024-01-15",
		"Duration of Months": "6",
	})
	if v, _ := tbl.Lookup("End Date"); v != "07/15/2024" {
		t.Fatalf("End Date = %q", v)
	}
	// явная дата окончания имеет приоритет
	tbl = BuildTokenTable(Record{
		"Start Date":         "2024-01-15",
		"End Date":           "2024-12-31",
		"Duration of Months": "6",
	})
	if v, _ := tbl.Lookup("End Date"); v != "12/31/2024" {
		t.Fatalf("явный End Date = %q", v)
	}
}

func TestBuildTokenTable_MonthlyRate(t *testing.T) {
	tbl := BuildTokenTable(Record{
		"Number of Users":    "10",
		"User Cost":          "$30.00",
		"Duration of Months": "6",
	})
	if v, _ := tbl.Lookup("Per User Monthly Rate"); v != "$0.50" {
		t.Fatalf("Per User Monthly Rate = %q", v)
	}
}

func TestBuildTokenTable_InstanceDefaults(t *testing.T) {
	tbl := BuildTokenTable(Record{
		"Instance Type":       "Teams",
		"Number of Instances": "2",
	})
	if v, _ := tbl.Lookup("Instance Cost"); v != "$1,000.00" {
		t.Fatalf("Instance Cost = %q", v)
	}
	if v, _ := tbl.Lookup("Instance Users"); v != "Two" {
		t.Fatalf("Instance Users = %q", v)
	}
}

func TestBuildTokenTable_SentinelsSwept(t *testing.T) {
	tbl := BuildTokenTable(Record{
		"Company Name":   "undefined",
		"Migration Cost": "null",
	})
	if v, _ := tbl.Lookup("Company Name"); v != "" {
		t.Fatalf("Company Name = %q, сентинел должен деградировать в пусто", v)
	}
	if v, _ := tbl.Lookup("Migration Cost"); v != "$0.00" {
		t.Fatalf("Migration Cost = %q", v)
	}
}

func TestBuildTokenTable_UsesDataSize(t *testing.T) {
	tbl := BuildTokenTable(Record{
		"Instance Type": "SharePoint",
		"Data Size":     "120",
	})
	if !tbl.usesDataSize {
		t.Fatalf("usesDataSize = false для SharePoint с данными")
	}
	tbl = BuildTokenTable(Record{
		"Instance Type": "Messaging",
		"Data Size":     "120",
	})
	if tbl.usesDataSize {
		t.Fatalf("usesDataSize = true для messaging-типа")
	}
}

func TestInferDefault(t *testing.T) {
	cases := map[string]string{
		"Shipping Cost":   "$0.00",
		"Setup Price":     "$0.00",
		"Contract Months": "1",
		"User Count":      "0",
		"Renewal Date":    "N/A",
		"Nickname":        "",
	}
	for in, want := range cases {
		if got := inferDefault(in); got != want {
			t.Fatalf("inferDefault(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatMoney(t *testing.T) {
	cases := map[float64]string{
		0.5:     "$0.50",
		1234.5:  "$1,234.50",
		1000000: "$1,000,000.00",
		2500:    "$2,500.00",
	}
	for in, want := range cases {
		if got := formatMoney(in); got != want {
			t.Fatalf("formatMoney(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeDate(t *testing.T) {
	cases := map[string]string{
		"2024-01-15":       "01/15/2024",
		"1/5/2024":         "01/05/2024",
		"January 15, 2024": "01/15/2024",
		"мусор":            "N/A",
		"":                 "",
	}
	for in, want := range cases {
		if got := normalizeDate(in); got != want {
			t.Fatalf("normalizeDate(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNumberToWords(t *testing.T) {
	cases := map[int64]string{
		0:    "Zero",
		2:    "Two",
		15:   "Fifteen",
		21:   "Twenty-One",
		100:  "One Hundred",
		115:  "One Hundred Fifteen",
		1000: "One Thousand",
	}
	for in, want := range cases {
		if got := numberToWords(in); got != want {
			t.Fatalf("numberToWords(%d) = %q, want %q", in, got, want)
		}
	}
}
