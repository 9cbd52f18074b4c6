package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/vozavi/salesagent/agent/conversation"
	"github.com/vozavi/salesagent/agent/crm"
	configx "github.com/vozavi/salesagent/pkg/config"
	"github.com/vozavi/salesagent/pkg/gemini"
	_ "github.com/vozavi/salesagent/pkg/logger/autoload"
)

type AppConfig struct {
	Store         string `envconfig:"STORE" default:"none"`
	ContextWindow int    `envconfig:"CONTEXT_WINDOW" default:"20"`
}

func main() {
	appCfg := configx.MustNew[AppConfig]("")

	geminiCfg := configx.MustNew[gemini.Config]("GEMINI")
	generator, err := gemini.NewClient(*geminiCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize generator")
	}

	opts := []conversation.Option{
		conversation.WithWindowSize(appCfg.ContextWindow),
	}
	if gateway := buildGateway(appCfg.Store); gateway != nil {
		opts = append(opts, conversation.WithGateway(gateway))
	}

	manager := conversation.NewManager(opts...)
	sessionID := manager.StartConversation("")
	log.Info().Str("session_id", sessionID).Msg("conversation started")

	if err := runChat(manager, generator, os.Stdin); err != nil {
		log.Error().Err(err).Msg("read user input")
	}
}

func buildGateway(store string) conversation.Gateway {
	switch store {
	case "supabase":
		cfg := configx.MustNew[crm.SupabaseConfig]("SUPABASE")
		gateway, err := crm.NewSupabaseGateway(*cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("initialize supabase gateway")
		}
		return gateway
	case "postgres":
		cfg := configx.MustNew[crm.PostgresConfig]("DATABASE")
		gateway, err := crm.NewPostgresGateway(*cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("initialize postgres gateway")
		}
		if err := gateway.EnsureSchema(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("ensure postgres schema")
		}
		return gateway
	case "none", "":
		return nil
	default:
		log.Fatal().Str("store", store).Msg("unknown store; use supabase, postgres or none")
		return nil
	}
}

// runChat drives the line-based chat loop until /salir, end of input, or a
// read failure, which it returns.
func runChat(manager *conversation.Manager, generator *gemini.Client, input io.Reader) error {
	ctx := context.Background()
	scanner := bufio.NewScanner(input)

	fmt.Println("Agente de ventas listo. Comandos: /guardar /cargar <session> /lead k=v /stats /salir")
	fmt.Print("Tú: ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/salir":
			if id, err := manager.SaveConversation(ctx); err == nil {
				fmt.Println("Conversación guardada:", id)
			}
			return nil
		case line == "/guardar":
			id, err := manager.SaveConversation(ctx)
			if err != nil {
				fmt.Println("No se pudo guardar:", err)
			} else {
				fmt.Println("Conversación guardada:", id)
			}
		case strings.HasPrefix(line, "/cargar "):
			sessionID := strings.TrimSpace(strings.TrimPrefix(line, "/cargar"))
			if err := manager.LoadConversation(ctx, sessionID); err != nil {
				fmt.Println("No se pudo cargar:", err)
			} else {
				fmt.Println("Conversación cargada:", sessionID)
			}
		case strings.HasPrefix(line, "/lead "):
			manager.UpdateLeadInfo(ctx, parseLeadFields(strings.TrimPrefix(line, "/lead ")))
			fmt.Println("Lead actualizado:", manager.LeadID())
		case line == "/stats":
			printStats(manager)
		default:
			fmt.Println("Agente:", handleTurn(ctx, manager, generator, line))
		}
		fmt.Print("Tú: ")
	}
	return scanner.Err()
}

// handleTurn runs one full pass of the context engine: ingest the user turn,
// reclassify the phase, refresh the summary, build the prompt, generate, and
// ingest the reply.
func handleTurn(ctx context.Context, manager *conversation.Manager, generator *gemini.Client, text string) string {
	manager.AddMessage(conversation.RoleUser, text, conversation.KindUserText, nil)
	manager.AnalyzePhase()
	manager.UpdateSummary()

	var history []gemini.HistoryTurn
	if proj, ok := manager.ContextForGeneration(); ok {
		for _, turn := range proj.RecentMessages {
			history = append(history, gemini.HistoryTurn{
				Role:    string(turn.Role),
				Content: turn.Content,
			})
		}
		// The turn just ingested is re-attached by BuildPrompt.
		if n := len(history); n > 0 && history[n-1].Content == text {
			history = history[:n-1]
		}
	}

	prompt := gemini.BuildPrompt(manager.PersonalizedPromptContext(), history, text)
	reply, err := generator.Generate(ctx, prompt)
	if err != nil {
		log.Error().Err(err).Str("session_id", manager.SessionID()).Msg("generation failed")
		reply = "Lo siento, hubo un problema al procesar tu mensaje. ¿Podrías intentarlo de nuevo?"
	}

	manager.AddMessage(conversation.RoleAssistant, reply, conversation.KindAgentResponse, nil)
	return reply
}

// parseLeadFields turns "nombre=Ana empresa=Acme" into a partial lead
// profile nested under "personal".
func parseLeadFields(args string) map[string]any {
	personal := map[string]any{}
	for _, pair := range strings.Fields(args) {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" || value == "" {
			continue
		}
		personal[key] = value
	}
	return map[string]any{"personal": personal}
}

func printStats(manager *conversation.Manager) {
	proj, ok := manager.ContextForGeneration()
	if !ok {
		fmt.Println("Sin conversación activa")
		return
	}
	fmt.Printf("Fase: %s | Interacciones: %d | Duración: %.1f min\n",
		proj.Phase, proj.TotalInteractions, proj.DurationMinutes)
	fmt.Printf("Engagement: %s | Turnos de usuario: %d | Necesidades: %d | Objeciones: %d\n",
		proj.Insights.EngagementLevel, proj.Insights.UserTurns,
		proj.Insights.NeedsMentioned, proj.Insights.ObjectionsRaised)
}
