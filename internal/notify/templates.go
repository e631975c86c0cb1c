package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

var welcomeTemplate = template.Must(template.New("welcome").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Bienvenido a ValoraLocal</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 0; padding: 0; background-color: #f5f5f5;">
<table role="presentation" style="width: 100%; border: 0;">
<tr><td style="padding: 40px 0; text-align: center;">
<table role="presentation" style="max-width: 520px; margin: 0 auto; background: #ffffff; border-radius: 8px; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
<tr><td style="padding: 32px 40px; text-align: left;">
<h1 style="margin: 0 0 16px; font-size: 22px; color: #1a1a1a;">¡Bienvenido, {{.BusinessName}}!</h1>
<p style="margin: 0 0 16px; color: #444; font-size: 15px; line-height: 1.5;">
Tu suscripción al plan <strong>{{.PlanName}}</strong> está activa.
</p>
<p style="margin: 0 0 8px; color: #444; font-size: 15px;">Tu panel privado:</p>
<p style="margin: 0 0 24px;">
<a href="{{.DashboardURL}}" style="display: inline-block; padding: 12px 28px; background: #16a34a; color: #ffffff; text-decoration: none; border-radius: 6px; font-size: 15px;">Abrir mi panel</a>
</p>
<p style="margin: 0 0 8px; color: #444; font-size: 15px;">Enlace de tu encuesta para clientes:</p>
<p style="margin: 0 0 24px;"><a href="{{.SurveyURL}}" style="color: #2563eb;">{{.SurveyURL}}</a></p>
<p style="margin: 0 0 8px; color: #444; font-size: 15px;">
Tu código de referido es <strong>{{.ReferralCode}}</strong>. Compártelo y recibe {{.RewardAmount}} CLP por cada negocio que se suscriba.
</p>
<p style="margin: 24px 0 0; color: #999; font-size: 13px; line-height: 1.5;">
Guarda este correo: el enlace del panel es tu acceso privado.
</p>
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`))

var salesTemplate = template.Must(template.New("sales").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Nueva suscripción</title></head>
<body style="font-family: sans-serif;">
<h2>Nueva suscripción: {{.BusinessName}}</h2>
<ul>
<li>Plan: {{.PlanName}}</li>
<li>Proveedor: {{.Provider}}</li>
<li>Suscripción: {{.SubscriptionID}}</li>
<li>Email: {{.Email}}</li>
<li>Slug: {{.Slug}}</li>
{{if .ReferredBy}}<li>Referido por: {{.ReferredBy}}</li>{{end}}
</ul>
</body>
</html>`))

var referralTemplate = template.Must(template.New("referral").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Recompensa por referido</title></head>
<body style="font-family: sans-serif;">
<h2>¡Hola, {{.BusinessName}}!</h2>
<p><strong>{{.ReferredName}}</strong> se suscribió con tu código de referido. Sumamos {{.Amount}} CLP a tu saldo.</p>
<p>Referidos: {{.ReferralCount}}. Saldo acumulado: {{.Balance}} CLP.</p>
<p><a href="{{.DashboardURL}}">Ver mi panel</a></p>
</body>
</html>`))

// WelcomeData — данные приветственного письма владельцу бизнеса.
type WelcomeData struct {
	BusinessName string
	PlanName     string
	DashboardURL string
	SurveyURL    string
	ReferralCode string
	RewardAmount int64
}

// SalesData — данные внутреннего уведомления отдела продаж.
type SalesData struct {
	BusinessName   string
	PlanName       string
	Provider       string
	SubscriptionID string
	Email          string
	Slug           string
	ReferredBy     string
}

// ReferralData — данные письма рефереру о начисленном вознаграждении.
type ReferralData struct {
	BusinessName  string
	ReferredName  string
	Amount        int64
	ReferralCount int
	Balance       int64
	DashboardURL  string
}

// RenderWelcomeEmail формирует HTML и текст приветственного письма.
func RenderWelcomeEmail(data WelcomeData) (html, text string, err error) {
	var buf bytes.Buffer
	if err := welcomeTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render welcome template: %w", err)
	}

	textBody := fmt.Sprintf("¡Bienvenido, %s!\n\nTu suscripción al plan %s está activa.\n\nTu panel privado: %s\nEncuesta para clientes: %s\nCódigo de referido: %s\n",
		data.BusinessName, data.PlanName, data.DashboardURL, data.SurveyURL, data.ReferralCode)

	return buf.String(), textBody, nil
}

// RenderSalesEmail формирует HTML и текст уведомления о новой подписке.
func RenderSalesEmail(data SalesData) (html, text string, err error) {
	var buf bytes.Buffer
	if err := salesTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render sales template: %w", err)
	}

	textBody := fmt.Sprintf("Nueva suscripción: %s\nPlan: %s\nProveedor: %s\nSuscripción: %s\nEmail: %s\n",
		data.BusinessName, data.PlanName, data.Provider, data.SubscriptionID, data.Email)

	return buf.String(), textBody, nil
}

// RenderReferralEmail формирует HTML и текст письма рефереру.
func RenderReferralEmail(data ReferralData) (html, text string, err error) {
	var buf bytes.Buffer
	if err := referralTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render referral template: %w", err)
	}

	textBody := fmt.Sprintf("¡Hola, %s!\n\n%s se suscribió con tu código de referido. Sumamos %d CLP a tu saldo.\nReferidos: %d. Saldo acumulado: %d CLP.\n\nTu panel: %s\n",
		data.BusinessName, data.ReferredName, data.Amount, data.ReferralCount, data.Balance, data.DashboardURL)

	return buf.String(), textBody, nil
}
