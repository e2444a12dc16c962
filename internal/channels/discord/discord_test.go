package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
)

func TestRender(t *testing.T) {
	if got := render(bus.Payload{Text: "hi"}); got != "hi" {
		t.Errorf("render without identity = %q", got)
	}
	if got := render(bus.Payload{Text: "hi", Username: "CTO"}); got != "**CTO**\nhi" {
		t.Errorf("render with identity = %q", got)
	}
}

func TestComponents(t *testing.T) {
	comps := components([]bus.Action{
		{ID: "aicib:proceed:t1", Label: "Proceed", Style: "primary"},
		{ID: "aicib:chat:t1", Label: "Just chat"},
	})
	if len(comps) != 1 {
		t.Fatalf("want one row, got %d", len(comps))
	}
	row, ok := comps[0].(discordgo.ActionsRow)
	if !ok || len(row.Components) != 2 {
		t.Fatalf("unexpected row %#v", comps[0])
	}
	first := row.Components[0].(discordgo.Button)
	if first.CustomID != "aicib:proceed:t1" || first.Style != discordgo.PrimaryButton {
		t.Errorf("first button = %+v", first)
	}
	if second := row.Components[1].(discordgo.Button); second.Style != discordgo.SecondaryButton {
		t.Errorf("default style = %v", second.Style)
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(configWithToken(""), bus.New()); err == nil {
		t.Error("expected error for empty token")
	}
}

func configWithToken(tok string) config.DiscordConfig {
	return config.DiscordConfig{Token: tok}
}
