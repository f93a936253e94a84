package app

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    Command
		wantErr bool
	}{
		{"no args defaults to serve", nil, CommandServe, false},
		{"serve", []string{"serve"}, CommandServe, false},
		{"worker", []string{"worker"}, CommandWorker, false},
		{"migrate", []string{"migrate"}, CommandMigrate, false},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck, false},
		{"extra args ignored", []string{"worker", "--flag", "value"}, CommandWorker, false},
		{"unknown", []string{"fetch"}, "", true},
		{"case sensitive", []string{"Serve"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCommand(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestCommands_ReturnsCopy(t *testing.T) {
	cmds := Commands()
	if len(cmds) != 4 {
		t.Fatalf("len(Commands()) = %d, want 4", len(cmds))
	}
	for _, c := range cmds {
		if c.Summary == "" {
			t.Errorf("%s has no summary", c.Command)
		}
	}

	cmds[0].Summary = "changed"
	if Commands()[0].Summary == "changed" {
		t.Error("Commands must not expose the internal slice")
	}
}
