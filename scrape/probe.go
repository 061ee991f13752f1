package scrape

import (
	"fmt"
	"os"

	"github.com/playwright-community/playwright-go"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/Tpgainz/companyatlas/backend"
)

// PackageName is the dependency name browser backends declare.
const PackageName = "playwright"

// MinAvailableMemory is the free memory a headless Chromium needs to start.
const MinAvailableMemory = 512 << 20

func init() {
	backend.RegisterProbe(PackageName, Probe)
}

// Probe reports whether the playwright driver is installed and the host has
// enough memory to launch a browser.
func Probe() error {
	if err := checkDriver(); err != nil {
		return err
	}

	return checkMemory()
}

// checkDriver resolves the driver directory the same way playwright does
// (PLAYWRIGHT_DRIVER_PATH, then the user cache) and checks it exists.
func checkDriver() error {
	runOpts := &playwright.RunOptions{SkipInstallBrowsers: true}

	if _, err := playwright.NewDriver(runOpts); err != nil {
		return fmt.Errorf("playwright driver: %w", err)
	}

	if _, err := os.Stat(runOpts.DriverDirectory); err != nil {
		return fmt.Errorf("playwright driver not installed: %w", err)
	}

	return nil
}

func checkMemory() error {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return fmt.Errorf("reading memory: %w", err)
	}

	if vm.Available < MinAvailableMemory {
		return fmt.Errorf("not enough memory for a browser: %d MB available", vm.Available>>20)
	}

	return nil
}
