package email

import (
	"bytes"
	htmltemplate "html/template"
	texttemplate "text/template"
)

func renderCode(html *htmltemplate.Template, text *texttemplate.Template, data CodeData) (string, string, error) {
	var htmlBuf, textBuf bytes.Buffer
	if err := html.Execute(&htmlBuf, data); err != nil {
		return "", "", err
	}
	if err := text.Execute(&textBuf, data); err != nil {
		return "", "", err
	}
	return htmlBuf.String(), textBuf.String(), nil
}

const emailStyle = `
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #2563eb; padding-bottom: 10px; margin-bottom: 20px; }
        .code { font-size: 28px; letter-spacing: 6px; font-weight: bold; padding: 12px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #2563eb; }`

var verificationHTML = htmltemplate.Must(htmltemplate.New("verify-html").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Verify your {{.AppName}} account</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <h2>Welcome, {{.UserName}}!</h2>
    <p>Enter this code to verify your email address:</p>
    <p class="code">{{.Code}}</p>
    <p>Or open this link: <a class="link" href="{{.Link}}">{{.Link}}</a></p>
    <p>The code expires in {{.ExpiryMinutes}} minutes.</p>
    <div class="footer">
        <p>If you didn't create an account with {{.AppName}}, you can safely ignore this email.</p>
    </div>
</body>
</html>`))

var verificationText = texttemplate.Must(texttemplate.New("verify-text").Parse(`Welcome, {{.UserName}}!

Your {{.AppName}} verification code is {{.Code}}
Verify here: {{.Link}}

The code expires in {{.ExpiryMinutes}} minutes. If you didn't create an account, ignore this email.`))

var resetHTML = htmltemplate.Must(htmltemplate.New("reset-html").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Reset your {{.AppName}} password</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <h2>Password Reset Request</h2>
    <p>Hi {{.UserName}},</p>
    <p>Use this code to choose a new password:</p>
    <p class="code">{{.Code}}</p>
    <p>Or open this link: <a class="link" href="{{.Link}}">{{.Link}}</a></p>
    <p><strong>Important:</strong> the code expires in {{.ExpiryMinutes}} minutes.</p>
    <div class="footer">
        <p>If you didn't request a password reset, you can safely ignore this email. Your password will remain unchanged.</p>
    </div>
</body>
</html>`))

var resetText = texttemplate.Must(texttemplate.New("reset-text").Parse(`Hi {{.UserName}},

Your {{.AppName}} password reset code is {{.Code}}
Reset here: {{.Link}}

The code expires in {{.ExpiryMinutes}} minutes. If you didn't request a reset, ignore this email.`))
