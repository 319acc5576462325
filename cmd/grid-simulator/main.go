// grid-simulator writes synthetic SSMI-format daily brightness temperature
// files so baseline runs and detection can be exercised without real data.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chrissnell/climatology/internal/log"
	"github.com/chrissnell/climatology/internal/timespan"
)

func main() {
	var (
		outDir       = flag.String("out", "ssmi", "Directory to write daily files into")
		start        = flag.String("start", "2010-01-01", "First date to simulate (YYYY-MM-DD)")
		end          = flag.String("end", "2010-12-31", "Last date to simulate (YYYY-MM-DD)")
		hemisphere   = flag.String("hemisphere", "north", "Hemisphere: north or south")
		frequency    = flag.String("frequency", "19", "Channel frequency in GHz")
		polarization = flag.String("polarization", "h", "Channel polarization: h or v")
		yearDirs     = flag.Bool("add-year-to-path", false, "Write each year into its own subdirectory")
		seed         = flag.Uint64("seed", 1, "Random seed")
		noise        = flag.Float64("noise", 20, "Standard deviation of the daily noise, in tenths of a kelvin")
		hotDates     = flag.String("anomaly-dates", "", "Comma-separated dates that get an injected warm patch")
		gapRate      = flag.Float64("gap-rate", 0, "Fraction of days left without a file")
		debug        = flag.Bool("debug", false, "Turn on debugging output")
	)
	flag.Parse()

	if err := log.Init(*debug); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	from, err := timespan.ParseDate(*start)
	if err != nil {
		log.Fatalf("invalid -start %q: %v", *start, err)
	}
	to, err := timespan.ParseDate(*end)
	if err != nil {
		log.Fatalf("invalid -end %q: %v", *end, err)
	}

	sim := simulator{
		Dir:           *outDir,
		Hemisphere:    *hemisphere,
		Frequency:     *frequency,
		Polarization:  *polarization,
		AddYearToPath: *yearDirs,
		Seed:          *seed,
		Noise:         *noise,
		GapRate:       *gapRate,
		Hot:           map[string]bool{},
	}
	for _, d := range strings.Split(*hotDates, ",") {
		if d = strings.TrimSpace(d); d == "" {
			continue
		}
		if _, err := time.Parse(timespan.DateLayout, d); err != nil {
			log.Fatalf("invalid anomaly date %q: %v", d, err)
		}
		sim.Hot[d] = true
	}

	written, err := sim.Run(from, to)
	if err != nil {
		log.Fatalf("simulation failed after %d files: %v", written, err)
	}
	log.Infof("wrote %d daily files to %s", written, *outDir)
}
