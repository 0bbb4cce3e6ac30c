package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/ecofleet-io/ecofleet/internal/compliance"
	"github.com/ecofleet-io/ecofleet/pkg/app"
	"github.com/ecofleet-io/ecofleet/pkg/log"
	"github.com/ecofleet-io/ecofleet/pkg/options"
)

// Output formats.
const (
	OutputTable = "table"
	OutputJSON  = "json"
)

type ReportOptions struct {
	APIOptions *options.APIOptions `json:"api" mapstructure:"api"`

	// Year and Quarter select the period. Year 0 means the current quarter;
	// Quarter 0 with a year means the whole year.
	Year    int    `json:"year" mapstructure:"year"`
	Quarter int    `json:"quarter" mapstructure:"quarter"`
	Output  string `json:"output" mapstructure:"output"`

	Log *log.Options `json:"log" mapstructure:"log"`

	now func() time.Time
}

var _ app.NamedFlagSetOptions = (*ReportOptions)(nil)

func NewReportOptions() *ReportOptions {
	logOpts := log.NewOptions()
	logOpts.Level = "warn"
	logOpts.OutputPaths = []string{"stderr"}

	return &ReportOptions{
		APIOptions: options.NewAPIOptions(),
		Output:     OutputTable,
		Log:        logOpts,
		now:        time.Now,
	}
}

func (o *ReportOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.addFlags(fss.FlagSet("report"))
	o.APIOptions.AddFlags(fss.FlagSet("api"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *ReportOptions) addFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.Year, "year", o.Year, "Year to report on. Defaults to the current quarter.")
	fs.IntVar(&o.Quarter, "quarter", o.Quarter, "Quarter (1-4) of --year. 0 reports the whole year.")
	fs.StringVarP(&o.Output, "output", "o", o.Output, "Output format (table or json).")
}

func (o *ReportOptions) Complete() error {
	if o.Year == 0 {
		p := compliance.CurrentPeriod(o.now())
		o.Year, o.Quarter = p.Year, p.Quarter
	}
	return nil
}

func (o *ReportOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.APIOptions.Validate()...)
	if err := o.Period().Validate(); err != nil {
		errs = append(errs, err)
	}
	if o.Output != OutputTable && o.Output != OutputJSON {
		errs = append(errs, fmt.Errorf("--output %q is not one of table, json", o.Output))
	}
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

// Period is the period selected by --year and --quarter.
func (o *ReportOptions) Period() compliance.Period {
	return compliance.Period{Year: o.Year, Quarter: o.Quarter}
}
