package spanbatch

import "testing"

func TestDefaultOptionsAreValid(t *testing.T) {
	if err := DefaultOptions().validate(); err != nil {
		t.Fatalf("DefaultOptions: %v", err)
	}
}

func TestValidateRejectsNonPositiveQueueSize(t *testing.T) {
	o := DefaultOptions()
	o.MaxQueueSize = 0
	if err := o.validate(); err == nil {
		t.Fatal("expected an error for a zero max queue size")
	}
}

func TestValidateRejectsNonPositiveScheduleDelay(t *testing.T) {
	o := DefaultOptions()
	o.ScheduleDelay = 0
	if err := o.validate(); err == nil {
		t.Fatal("expected an error for a zero schedule delay")
	}
}

func TestValidateRejectsAsyncWithoutConcurrency(t *testing.T) {
	o := DefaultOptions()
	o.ExportAsync = true
	o.MaxExportAsync = 0
	if err := o.validate(); err == nil {
		t.Fatal("expected an error for async export with no concurrency budget")
	}
}

func TestWithExportAsyncZeroKeepsDefaultConcurrency(t *testing.T) {
	o := DefaultOptions()
	WithExportAsync(0)(&o)
	if !o.ExportAsync {
		t.Fatal("expected ExportAsync to be enabled")
	}
	if o.MaxExportAsync != defaultMaxExportAsync {
		t.Fatalf("MaxExportAsync: got %d, want default %d", o.MaxExportAsync, defaultMaxExportAsync)
	}
}
